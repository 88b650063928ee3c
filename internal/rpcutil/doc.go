/*
Package rpcutil mounts the standard gRPC health-checking protocol
(google.golang.org/grpc/health, grpc_health_v1) on every service
binary so an orchestrator can probe liveness without understanding
this module's own NATS-based RPC envelope.
*/
package rpcutil
