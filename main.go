package main

import (
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/kutluhann/kademlia-dht/api"
	"github.com/kutluhann/kademlia-dht/config"
	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/id_tools"
	"github.com/kutluhann/kademlia-dht/network"
	"github.com/kutluhann/kademlia-dht/pos"
)

func main() {
	isGenesis := flag.Bool("genesis", false, "start as a genesis node (no bootstrap)")
	port := flag.Int("port", 8080, "UDP port to listen on")
	httpPort := flag.Int("http", 8000, "HTTP API port for client requests")
	bootstrapAddr := flag.String("bootstrap", "", "bootstrap node address, e.g. 127.0.0.1:8080")
	enablePos := flag.Bool("pos", false, "require a proof-of-space challenge from the bootstrap contact")
	curve := flag.String("curve", "", "identity curve: p256 (default) or secp256k1")
	flag.Parse()

	cfg := config.Init()
	if *bootstrapAddr == "" {
		*bootstrapAddr = cfg.BootstrapAddr
	}
	activeCurve := *curve
	if activeCurve == "" {
		activeCurve = cfg.Curve
	}
	posEnabled := *enablePos || cfg.EnablePos

	fmt.Printf("Starting DHT node on UDP port %d...\n", *port)

	id_tools.SetDataDirectory(cfg.DataDir)

	privateKey, peerID := loadOrGenerateIdentity(activeCurve)
	cfg.SetPrivateKey(privateKey)
	cfg.SetPeerID(peerID)

	fmt.Println("Verifying identity integrity...")
	if !verifyIdentity(activeCurve, privateKey, peerID) {
		log.Fatal("CRITICAL: identity verification failed")
	}
	fmt.Println("Identity verified.")

	selfContact := dht.Contact{ID: peerID, LastSeen: time.Now()}

	var posVerifier dht.PosVerifier
	if posEnabled {
		posVerifier = &network.Verifier{PlotSize: cfg.PlotSize}
	}

	d := dht.New(selfContact, posVerifier)

	if posEnabled {
		fmt.Println("Allocating proof-of-space plot...")
		plot, err := pos.GeneratePlot(peerID, cfg.PlotSize, cfg.DataDir)
		if err != nil {
			log.Fatalf("failed to generate PoS plot: %v", err)
		}
		d.Node.Plot = plot
		fmt.Println("Proof-of-space plot ready at", plot.FilePath)
	}

	transport, err := network.Listen(fmt.Sprintf(":%d", *port), d.Node)
	if err != nil {
		log.Fatalf("failed to start UDP transport: %v", err)
	}
	selfContact.Protocol = network.NewProtocol(transport, transport.Conn.LocalAddr().String())
	d.Node.OurContact = selfContact

	go transport.Serve()
	go d.RunMaintenance()

	httpServer, err := api.NewServer(d, *httpPort)
	if err != nil {
		log.Fatalf("failed to start HTTP API: %v", err)
	}
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP API failed: %v", err)
		}
	}()
	fmt.Printf("HTTP API listening on port %d\n", *httpPort)

	if *isGenesis {
		fmt.Println("--> Running as genesis node. Waiting for connections...")
	} else {
		if *bootstrapAddr == "" {
			log.Fatal("FATAL: bootstrap address required for non-genesis nodes (-bootstrap or DHT_BOOTSTRAP_ADDR)")
		}
		if _, err := net.ResolveUDPAddr("udp", *bootstrapAddr); err != nil {
			log.Fatalf("FATAL: invalid bootstrap address %q: %v", *bootstrapAddr, err)
		}

		fmt.Printf("--> Bootstrapping via %s\n", *bootstrapAddr)
		bootstrapID, err := resolveBootstrapID(transport, *bootstrapAddr)
		if err != nil {
			log.Fatalf("FATAL: failed to resolve bootstrap node identity: %v", err)
		}
		seed := dht.Contact{
			ID:       bootstrapID,
			Protocol: network.NewProtocol(transport, *bootstrapAddr),
			LastSeen: time.Now(),
		}

		if err := d.Bootstrap(seed); err != nil {
			log.Fatalf("FATAL: bootstrap failed: %v", err)
		}
		fmt.Println("Successfully joined the network.")
	}

	select {}
}

// resolveBootstrapID learns the bootstrap node's ID via a PING/FIND_NODE
// probe before adding it as a contact, since AddContact needs an ID up
// front and the operator only supplies an address on the command line.
func resolveBootstrapID(transport *network.Transport, addr string) (dht.ID, error) {
	probe := network.NewProtocol(transport, addr)
	self := dht.Contact{ID: transport.SelfID}
	if err := probe.Ping(self); err != nil {
		return dht.ID{}, err
	}
	contacts, err := probe.FindNode(self, transport.SelfID)
	if err != nil {
		return dht.ID{}, err
	}
	for _, c := range contacts {
		if c.ID != transport.SelfID {
			return c.ID, nil
		}
	}
	return dht.ID{}, fmt.Errorf("bootstrap node returned no usable identity")
}

// loadOrGenerateIdentity loads or mints the node's identity on curve (""
// and "p256" both mean the default NIST P-256 curve; "secp256k1" opts into
// the curve the rest of the domain stack's go-ethereum and decred
// dependencies already standardize on). The returned key is a
// *ecdsa.PrivateKey or a *secp256k1.PrivateKey depending on curve; pass it
// to verifyIdentity with the same curve string to check it.
func loadOrGenerateIdentity(curve string) (any, id_tools.PeerID) {
	if curve == "secp256k1" {
		if _, err := os.Stat(id_tools.PrivateKeyFilePath); err == nil {
			fmt.Println("Loading existing private key from", id_tools.PrivateKeyFilePath)
			return id_tools.LoadPrivateKeySecp256k1()
		}
		fmt.Println("Generating new secp256k1 identity...")
		key, peerID := id_tools.GenerateNewPIDSecp256k1()
		id_tools.SavePrivateKeySecp256k1(key)
		return key, peerID
	}

	if _, err := os.Stat(id_tools.PrivateKeyFilePath); err == nil {
		fmt.Println("Loading existing private key from", id_tools.PrivateKeyFilePath)
		return id_tools.LoadPrivateKey()
	}
	fmt.Println("Generating new identity...")
	key, peerID := id_tools.GenerateNewPID()
	id_tools.SavePrivateKey(key)
	return key, peerID
}

// verifyIdentity dispatches to the curve-specific identity check matching
// how privateKey was produced by loadOrGenerateIdentity.
func verifyIdentity(curve string, privateKey any, peerID id_tools.PeerID) bool {
	if curve == "secp256k1" {
		return id_tools.VerifyIdentitySecp256k1(privateKey.(*secp256k1.PrivateKey), peerID)
	}
	return id_tools.VerifyIdentity(privateKey.(*ecdsa.PrivateKey), peerID)
}
