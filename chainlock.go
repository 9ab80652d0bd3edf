// Package chainlock holds the shared data types used throughout the module.
//
// Chainlock analyses a project's dependency manifests for supply-chain risk:
// known vulnerabilities, malicious packages, obfuscated install scripts,
// reputation weakness, and supply-chain-attack indicators. The types in this
// package are the currency passed between the analysis components; see the
// librisk package for the top-level entry points.
package chainlock
