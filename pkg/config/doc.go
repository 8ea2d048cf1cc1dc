// Package config loads the workorder service configuration.
//
// Configuration is resolved in three steps:
//
//  1. Defaults from Default.
//  2. An optional YAML file, which only needs to name the keys it changes.
//  3. Environment overrides (VCENTER_URL, VCENTER_USER, VCENTER_PASSWORD,
//     VCENTER_PORT, DATABASE_URL, LOG_LEVEL, WORKORDERS_LISTEN, NATS_URL).
//
// The result is checked with validator struct tags plus a few cross-field
// rules before it is returned.
//
// A minimal file:
//
//	server:
//	  listen_address: ":8000"
//	database:
//	  driver: postgres
//	  dsn: postgres://workorders@db/workorders
//	provisioner:
//	  workdir: /srv/terraform
//	  timeout: 10m
//	nats:
//	  url: nats://nats:4222
package config
