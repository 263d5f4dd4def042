package model

// ErrorResponse is the standard envelope for REST error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// RPCErrorResponse is the JSON-RPC shaped envelope the MCP endpoint returns
// when it rejects a request before the protocol layer sees it.
type RPCErrorResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Error   RPCError    `json:"error"`
	ID      interface{} `json:"id"`
}

// RPCError is the error member of RPCErrorResponse.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRPCError builds an envelope with a null id.
func NewRPCError(code int, message string) RPCErrorResponse {
	return RPCErrorResponse{
		JSONRPC: "2.0",
		Error:   RPCError{Code: code, Message: message},
		ID:      nil,
	}
}
