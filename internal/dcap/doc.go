/*
Package dcap implements the IAS-compatible attestation report signing
endpoint: it wraps a quote in the JSON envelope Intel's Attestation
Service historically returned (id, timestamp, isvEnclaveQuoteStatus,
isvEnclaveQuoteBody) and signs that envelope with an RSA key, returning
the signature and signing certificate as response headers the way IAS
did.

This is pure wire-compatibility plumbing: nothing in the task
lifecycle engine calls it, and it carries no business logic of its
own beyond resolving a collateral expiry status string. It exists so
a worker's enclave quote can be handed an attestation report in the
shape internal/attestation.Report expects without a real IAS
deployment.
*/
package dcap
