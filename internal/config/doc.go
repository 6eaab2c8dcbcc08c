// Package config loads and validates YAML configuration for the connection
// manager.
//
// Files support ${VAR} environment substitution:
//
//	manager:
//	  failure_threshold: 3
//	  enable_load_balancing: true
//	endpoints:
//	  primary:
//	    url: ${PRIMARY_WS_URL}
//	    type: primary
//	    weight: 10
package config
