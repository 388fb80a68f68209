// Package ota manages firmware rollout for bridged devices. Operators
// publish images into a per-device-type catalogue; the manager
// compares each device's reported firmware version semantically and
// pushes updates as ota_update commands through the dispatcher, so an
// update gets the same correlation and timeout handling as any other
// command.
package ota
