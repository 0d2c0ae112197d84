// Package web3 houses read-only blockchain connectivity for the token
// monitor: the ChainReader contract (Dialer and Conn), address validation,
// and the network catalogue used to resolve RPC endpoints by name. Concrete
// EVM support lives in the ethereum subpackage. Nothing in this package ever
// signs or submits a transaction.
package web3
