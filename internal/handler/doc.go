// Package handler contains the request router: it admits inbound requests
// under a concurrency limit, picks a backend through the load balancer and
// forwards the request, retrying on a different backend when an attempt
// fails.
package handler
