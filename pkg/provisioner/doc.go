// Package provisioner turns an approved workorder into a virtual machine by
// driving an external infrastructure-as-code tool.
//
// An attempt renders a sparse variable file from the workorder, runs the
// tool's init phase and, if that succeeds, its apply phase with the variable
// file. Both phases run in a fixed working directory. vCenter credentials
// travel in the environment (TF_VAR_vsphere_server, TF_VAR_vsphere_user,
// TF_VAR_vsphere_password) and never enter the variable file, which is
// removed when the attempt ends.
//
//	p := provisioner.New(provisioner.Config{
//	    Binary:  "terraform",
//	    WorkDir: "./terraform",
//	    Timeout: 10 * time.Minute,
//	}, provisioner.ExecRunner{}, logger)
//
//	res, err := p.Provision(ctx, wo)
//	switch {
//	case err != nil:
//	    // the tool could not be run at all
//	case res.Success:
//	    fmt.Println(res.VMID)
//	default:
//	    fmt.Println(res.Failed().Stderr)
//	}
package provisioner
