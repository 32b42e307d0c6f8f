// Command cocstress runs the credit-based channel stress scenario, either
// fully in-process on a simulated radio or across processes over QUIC.
package main

func main() {
	Execute()
}
