package common

// AccessTokenHeaderName is the gRPC metadata key carrying a session token.
const AccessTokenHeaderName = "access_token"

// ApiKeyHeaderName is the gRPC metadata key carrying an API key code.
const ApiKeyHeaderName = "x-api-key"

// Forwarded address headers, consulted only when the proxy is trusted.
const (
	ForwardedForHeaderName = "x-forwarded-for"
	RealIPHeaderName       = "x-real-ip"
)
