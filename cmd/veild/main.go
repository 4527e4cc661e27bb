// veild runs the privacy protocol daemon and its operator tooling.
package main

func main() {
	Execute()
}
