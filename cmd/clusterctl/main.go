// Command clusterctl boots the emulated memory subsystem from a machine
// description and inspects or exercises its cluster allocator.
package main

func main() {
	execute()
}
