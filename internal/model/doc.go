// Package model defines the shared data types of the connection-management
// subsystem: endpoints, connections and their lifecycle states, healing
// operations, and the pluggable transport contracts (Factory, Prober, Pinger)
// supplied by callers.
package model
