// Package observers holds the built-in batchtx observers: a label index
// kept up to date from commit diffs, a constraint checker for the nodes a
// commit touched, an in-process change feed and a network forwarder.
package observers
