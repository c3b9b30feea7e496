// Package mcp gates Model Context Protocol tools behind x402 payments.
//
// The protocol state machine is the same one the http package runs over
// status 402, carried in JSON-RPC instead of headers: a server answers
// unpaid calls to protected tools with code 402 and a challenge in
// error.data, the client signs a payment and retries with it under
// params._meta["x402/payment"], and the settlement result travels back in
// result._meta["x402/payment-response"]. Subpackages server and client
// implement the two halves.
package mcp

// Well-known _meta keys of the x402-over-MCP exchange.
const (
	// MetaKeyPayment is the request params._meta key carrying the signed
	// payment payload.
	MetaKeyPayment = "x402/payment"

	// MetaKeyPaymentResponse is the result._meta key carrying the
	// settlement response.
	MetaKeyPaymentResponse = "x402/payment-response"
)

// CodePaymentRequired is the JSON-RPC error code signaling that a tool
// call needs payment, mirroring HTTP status 402. The challenge rides in
// error.data as its generation's wire JSON.
const CodePaymentRequired = 402

// ToolResource builds the canonical resource URI advertised in challenges
// for a protected tool.
func ToolResource(toolName string) string {
	return "mcp://tools/" + toolName
}
