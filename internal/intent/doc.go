// Package intent maps free-text requests to structured device
// commands. The Resolver interface is the chat endpoint's only
// dependency; the bundled RuleResolver does phrase matching against
// the device registry, and nothing upstream cares whether a fancier
// implementation replaces it.
package intent
