// Package matter runs a commissionable device node.
//
// A Node ties the stack together for the device role: a UDP transport,
// session and exchange managers, the PASE and CASE responders, the
// commissioning command server and DNS-SD announcements. Fabrics, resumption
// records and the setup identity are persisted in the configured storage
// backend.
//
// # Creating a Device
//
//	node, err := matter.NewNode(matter.NodeConfig{
//	    VendorID:   0xFFF1,
//	    ProductID:  0x8001,
//	    DeviceName: "Go Light",
//	    Storage:    backend,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	info, _ := node.GetSetupInfo()
//	fmt.Println("QR Code:", info.QRCode)
//
// # Commissioning
//
// An uncommissioned node opens its commissioning window on Start: it
// answers PASE with its passcode and is announced as commissionable. The
// window closes when a commissioner sends CommissioningComplete, when it
// times out or on CloseCommissioningWindow. Removing the last fabric opens
// it again.
//
// # Testing
//
// Nodes run over pion's virtual network and an in-memory DNS-SD bus:
//
//	network, _ := exchange.NewTestNetwork("10.0.0.1", "10.0.0.5")
//	bus := discovery.NewMemoryMDNS()
//	node, _ := matter.NewNode(matter.NodeConfig{
//	    ...
//	    Net:       network.Net("10.0.0.5"),
//	    ListenIP:  "10.0.0.5",
//	    Registrar: bus.Registrar("10.0.0.5"),
//	})
package matter
