// Command notesctl holds operator tasks: storage authorization, a manual
// reaper cycle and schema migration.
package main

func main() {
	Execute()
}
