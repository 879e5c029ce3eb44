package main

// Version is the cadent release version, overridable at build time via
// -ldflags "-X main.Version=...".
var Version = "1.0.0"
