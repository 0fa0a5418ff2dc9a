/*
Package zpipe implements a client for the zpipe gateway, a program that
relays Zephyr notices over its standard input and output.

# Pipes

A *zpipe.Pipe owns the gateway's input and output. Commands are written to
the gateway's input, and a background dispatch loop decodes notices from its
output and passes each to a handler supplied by the caller.

To start a gateway and receive decoded zephyrgrams:

	p, err := zpipe.Open([]string{"/usr/local/bin/zpipe"}, func(p *zpipe.Pipe, z *zpipe.Zephyrgram) {
	   log.Printf("Received: %v", z)
	}, nil) // nil for default options
	if err != nil {
	   log.Fatalf("Open: %v", err)
	}
	defer p.Close()

Use OpenRaw to receive undecoded *wire.Notice values instead. Notices whose
text is not valid in their declared character set are dropped by Open, but
delivered by OpenRaw. To run the protocol over streams other than a child
process, use New.

Each notice is handled in its own goroutine, so handlers may run
concurrently and in any order. Set Options.Concurrency to limit the number of
handlers in flight.

# Subscriptions and publishing

To receive notices, subscribe to them by class, instance and recipient:

	if err := p.Subscribe("help", "*", "*"); err != nil {
	   log.Fatalf("Subscribe: %v", err)
	}

To publish a message:

	err := p.Zwrite(&zpipe.Zephyrgram{
	   Class:    "help",
	   Instance: "zpipe",
	   Opcode:   "auto",
	   Auth:     true,
	   Fields:   []string{"signature", "message text"},
	})

Writes from concurrent goroutines are serialized, so commands are never
interleaved on the wire.

# Shutdown

Shutting down a pipe takes two steps. CloseZephyr asks the gateway to stop
delivering notices and waits until its output has ended, so that no notice
already in transit is lost. Close then closes the gateway's input, which
tells the gateway to exit. Close calls CloseZephyr if necessary, and both
may safely be called more than once. Neither stops the gateway process; use
Wait to collect its exit status.

# Wire formats

The byte-level protocol is defined by package wire. The default is
wire.Canonical; set Options.Format to wire.Legacy to talk to gateways that
use the older self-describing key/value format.
*/
package zpipe
