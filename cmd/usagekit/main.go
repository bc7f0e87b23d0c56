// Package main is the entry point for usagekit, the usage quota and
// billing-event service.
package main

func main() {
	Execute()
}
