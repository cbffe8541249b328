package id_tools

import (
	stdecdsa "crypto/ecdsa"
	"crypto/sha256"
	"log"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// GenerateNewPIDSecp256k1 generates an identity on the secp256k1 curve
// instead of the default P-256, for nodes started with "-curve secp256k1".
// secp256k1 is the curve the rest of the domain stack (go-ethereum,
// decred's own secp256k1 package) already standardizes on, so a node can
// opt into interoperable signatures without pulling in a second unrelated
// crypto library.
func GenerateNewPIDSecp256k1() (*secp256k1.PrivateKey, PeerID) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	peerID := GeneratePeerIDFromPublicKey(priv.PubKey().ToECDSA())
	return priv, peerID
}

// SignMessageSecp256k1 signs message with a secp256k1 private key.
func SignMessageSecp256k1(privateKey *secp256k1.PrivateKey, message string) []byte {
	hashedMessage := sha256.Sum256([]byte(message))
	sig := ecdsa.Sign(privateKey, hashedMessage[:])
	return sig.Serialize()
}

// VerifySignatureSecp256k1 verifies a signature produced by
// SignMessageSecp256k1 against the given public key.
func VerifySignatureSecp256k1(publicKey *secp256k1.PublicKey, message string, signature []byte) bool {
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	hashedMessage := sha256.Sum256([]byte(message))
	return sig.Verify(hashedMessage[:], publicKey)
}

// ToStdlibPublicKey adapts a secp256k1 public key to crypto/ecdsa.PublicKey
// so it can flow through the same CheckPublicKeyMatchesPeerID path as a
// P-256 key.
func ToStdlibPublicKey(pub *secp256k1.PublicKey) *stdecdsa.PublicKey {
	return pub.ToECDSA()
}

// SavePrivateKeySecp256k1 persists priv to PrivateKeyFilePath as its raw
// serialized scalar, the secp256k1 counterpart of SavePrivateKey.
func SavePrivateKeySecp256k1(priv *secp256k1.PrivateKey) {
	file, err := os.Create(PrivateKeyFilePath)
	if err != nil {
		log.Fatal("Error creating private key file:", err)
	}
	defer file.Close()

	if _, err := file.Write(priv.Serialize()); err != nil {
		log.Fatal("Error writing private key to file:", err)
	}
}

// LoadPrivateKeySecp256k1 reads back a key written by SavePrivateKeySecp256k1.
func LoadPrivateKeySecp256k1() (*secp256k1.PrivateKey, PeerID) {
	keyBytes, err := os.ReadFile(PrivateKeyFilePath)
	if err != nil {
		log.Fatal("Error reading private key from file:", err)
	}

	priv := secp256k1.PrivKeyFromBytes(keyBytes)
	peerID := GeneratePeerIDFromPublicKey(ToStdlibPublicKey(priv.PubKey()))
	return priv, peerID
}

// VerifyIdentitySecp256k1 is VerifyIdentity's secp256k1 counterpart: same
// public-key/peerID match check, followed by a sign/verify round trip using
// the secp256k1 signer instead of stdlib ecdsa's.
func VerifyIdentitySecp256k1(privateKey *secp256k1.PrivateKey, peerID PeerID) bool {
	if !CheckPublicKeyMatchesPeerID(ToStdlibPublicKey(privateKey.PubKey()), peerID) {
		log.Println("Error: Public Key does not match Peer ID")
		return false
	}

	message := GenerateSecureRandomMessage()
	signature := SignMessageSecp256k1(privateKey, message)
	if !VerifySignatureSecp256k1(privateKey.PubKey(), message, signature) {
		log.Println("Error: Cryptographic signature verification failed")
		return false
	}

	return true
}
