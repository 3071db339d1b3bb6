/*Package agent keeps a device connected to the platform and its nodes and things registered

The Supervisor owns the connection. While disconnected its watchdog attempts a new
connection once per reconnect interval, default 10s. On every new connection all nodes
and things of the Ledger are created, registered and set online in declaration order,
and the peripherals of bound things are opened. A lost connection only re-arms the
watchdog, the online flags of the entries stay as they are.

The Ledger records the declared topology together with the current platform handles.
A node or thing is never marked online unless it is registered, and things are only
registered below registered nodes.

The Publisher sends peripheral state as samples. Samples for unregistered things are
dropped, there is no store and forward. Local actuation never depends on the connection.

Usage:

	ledger := agent.NewLedger(agent.DefaultTopology("BCM21", "BCM6"), nil)
	periph, err := peripheral.NewPeriph()
	if err != nil {
		return err
	}
	gateway := peripheral.NewGateway(periph)
	publisher := agent.NewPublisher(ledger, gateway, nil)
	actions := agent.NewActionRouter(ledger, publisher)
	supervisor := agent.NewSupervisor(&agent.Builder{
		Connector:     connector,
		Ledger:        ledger,
		Gateway:       gateway,
		KeyHandler:    publisher.HandleKey,
		NodeObserver:  actions,
		ThingObserver: actions,
	})
	supervisor.Start()
	defer supervisor.Shutdown()
*/
package agent
