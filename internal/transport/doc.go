/*
Package transport is the inter-service RPC substrate binding Frontend,
Management, Scheduler and worker processes together: a NATS
request-reply call wrapped in a JSON envelope carrying a method
discriminator, so one subject per service ("management.rpc",
"scheduler.rpc") can dispatch many operations without one NATS subject
per RPC.

No protobuf/grpc service stubs are generated anywhere in this module
(no .proto files were available to compile). The cmd binaries open
their NATS connections with nats.Connect and no TLS options, so these
RPCs carry no attested TLS and no attested peer identity; attested TLS
is applied only on Frontend's external listener (internal/frontend).
*/
package transport
