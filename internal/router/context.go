package router

type contextKey struct{}

type contextValue struct {
	requestID string
	location  string
	action    string
	sourceIP  string
}
