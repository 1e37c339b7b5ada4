// Opsbot - chat-driven AWS control plane
// Ask. Act. Reply.
package main

func main() {
	Execute()
}
