/*
Package config loads the YAML file every service binary is pointed at
via --config: attestation collateral parameters, the public listen
address, the advertised addresses peer services dial, the audit
enclave info blob, and the KV storage path.
*/
package config
