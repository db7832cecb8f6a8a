// Package gateway defines the contract between the agent runtime and the
// external service that plans, analyzes and executes tasks. Concrete
// adapters live in sub-packages; the echo gateway in this package is a
// deterministic in-process implementation.
package gateway
