// Package policy reviews workorders against Rego policies using Open Policy
// Agent.
//
// Reviews are advisory. The result tells an approver whether a request fits
// local conventions, but it never blocks or changes the lifecycle.
//
// # Built-in policies
//
//   - vm-sizing: CPU, RAM and disk count against data.workorders.limits
//   - vm-naming: lowercase DNS-label VM names and hostnames
//   - vm-image: template-based versus from-scratch completeness
//   - guest-network: static guest IPs need a netmask and gateway
//
// # Writing policies
//
// A policy is a Rego module whose deny set yields findings. The workorder is
// available as input.workorder, using the same field names as the REST API:
//
//	package workorders.policies.custom
//
//	import rego.v1
//
//	deny contains violation if {
//		input.workorder.datacenter_name == null
//		violation := {
//			"message": "datacenter_name is required in this site",
//			"severity": "error",
//			"field": "datacenter_name",
//		}
//	}
//
// Findings with severity error or critical are violations and make the
// review disallowed; info and warning findings are reported as warnings.
//
// # Hot reload
//
// Policies loaded from disk can be watched and reloaded on change:
//
//	eng, _ := policy.NewEngine(logger, policy.DefaultLimits())
//	_ = eng.LoadPolicies(ctx, paths)
//	_ = eng.Watch(ctx, paths)
//
// Built-in policies are kept across reloads.
package policy
