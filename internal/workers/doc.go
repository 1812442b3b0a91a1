/*
Package workers provides utilities for determining optimal worker pool sizes
in containerized environments.

Go 1.19+ sets GOMAXPROCS from container CPU limits automatically, while
runtime.NumCPU() still reports the host machine's core count. The helpers
here derive worker counts from GOMAXPROCS so the conversion pool respects
cgroup limits instead of oversubscribing a shared node.

Basic usage:

	// CPU-bound work (image encoding)
	numWorkers := workers.ForCPU(8)

	// I/O-bound work (blob reads/writes)
	numWorkers := workers.ForIO(16)

	// Mixed work (read file, encode, write result)
	numWorkers := workers.ForMixed(12)

All helpers honor the CONVERT_WORKERS environment variable as an explicit
operator override, and accept a cap so a large machine cannot spawn an
unbounded pool.
*/
package workers
