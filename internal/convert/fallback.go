package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"

	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"

	_ "image/gif"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// encodeFallback is the pure-Go conversion path used when libvips is not
// available. It cannot produce AVIF.
func encodeFallback(src []byte, target imagetypes.Format, quality, maxDim int) (*EncodedImage, error) {
	img, err := decodeSource(src)
	if err != nil {
		return nil, err
	}

	if maxDim > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
			logging.Debug("Downscaling %dx%d to fit %dpx before %s encode",
				bounds.Dx(), bounds.Dy(), maxDim, target)
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	switch target {
	case imagetypes.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case imagetypes.FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case imagetypes.FormatPNG:
		err = png.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("%w: %s requires libvips", ErrUnsupportedFormat, target)
	}
	if err != nil {
		return nil, fmt.Errorf("%s encode failed: %w", target, err)
	}

	bounds := img.Bounds()
	return &EncodedImage{
		Data:   buf.Bytes(),
		Format: target,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// decodeSource decodes image bytes using the registered pure-Go decoders,
// falling back to ffmpeg for sources they cannot handle.
func decodeSource(src []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	logging.Debug("imaging decode failed (%v), trying image.Decode", err)

	img, _, err = image.Decode(bytes.NewReader(src))
	if err == nil {
		return img, nil
	}

	logging.Debug("standard decode failed (%v), trying ffmpeg rescue", err)

	img, ffErr := decodeWithFFmpeg(src)
	if ffErr != nil {
		return nil, fmt.Errorf("all decode paths failed: %w", err)
	}
	return img, nil
}

// decodeWithFFmpeg shells out to ffmpeg to decode sources the pure-Go
// decoders reject. The temporary source file is removed on every exit path.
func decodeWithFFmpeg(src []byte) (image.Image, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	tmp, err := os.CreateTemp("", "optimizer-src-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			logging.Warn("Failed to remove temp file %s: %v", tmpPath, removeErr)
		}
	}()

	if _, err := tmp.Write(src); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	cmd := exec.Command("ffmpeg",
		"-i", tmpPath,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}

	return img, nil
}

// FFmpegAvailable reports whether the ffmpeg rescue decoder can run.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}
