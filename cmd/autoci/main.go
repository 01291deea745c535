// Command autoci runs CI jobs for the UFS weather model and SRW app on
// HPC machines and polls end-to-end workflow experiments.
package main

func main() {
	Execute()
}
