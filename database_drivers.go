//go:build !test

// This file pulls in the SQL drivers only for production builds; the
// build tag keeps test and vet runs free of the heavyweight backends.
package main

import "mistral-air-map/pkg/database/drivers"

func init() {
	// Touch the drivers package so its init functions register SQL
	// backends before the snapshot store opens connections.
	drivers.Ready()
}
