// Package id_tools derives and persists the cryptographic identity behind
// a Kademlia peer ID: an ECDSA keypair whose public key hashes down to the
// 160-bit ID the DHT core operates on.
package id_tools

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kutluhann/kademlia-dht/constants"
)

// PrivateKeyFilePath is the path to the private key file.
var PrivateKeyFilePath = "private_key.pem"

// SetDataDirectory sets the data directory for storing private keys.
func SetDataDirectory(dir string) {
	PrivateKeyFilePath = filepath.Join(dir, "private_key.pem")
}

var ellipticCurve = elliptic.P256()

// PeerID is a 160-bit Kademlia node identifier, matching the ID width in
// constants.B.
type PeerID [constants.KeySizeBytes]byte

func GenerateNewPID() (*ecdsa.PrivateKey, PeerID) {
	privateKey, err := ecdsa.GenerateKey(ellipticCurve, rand.Reader)
	if err != nil {
		log.Fatal("Error generating ECDSA private key:", err)
	}

	peerID := GeneratePeerIDFromPublicKey(&privateKey.PublicKey)
	return privateKey, peerID
}

func SavePrivateKey(key *ecdsa.PrivateKey) {
	file, err := os.Create(PrivateKeyFilePath)
	if err != nil {
		log.Fatal("Error creating private key file:", err)
	}
	defer file.Close()

	keyBytes, _ := key.Bytes()
	_, err = file.Write(keyBytes)
	if err != nil {
		log.Fatal("Error writing private key to file:", err)
	}
}

func LoadPrivateKey() (*ecdsa.PrivateKey, PeerID) {
	file, err := os.Open(PrivateKeyFilePath)
	if err != nil {
		log.Fatal("Error opening private key file:", err)
	}
	defer file.Close()

	fileInfo, _ := file.Stat()

	keyBytes := make([]byte, fileInfo.Size())
	_, err = file.Read(keyBytes)
	if err != nil {
		log.Fatal("Error reading private key from file:", err)
	}

	privateKey, err := ecdsa.ParseRawPrivateKey(ellipticCurve, keyBytes)
	if err != nil {
		log.Fatal("Error parsing private key:", err)
	}

	peerID := GeneratePeerIDFromPublicKey(&privateKey.PublicKey)
	return privateKey, peerID
}

// GeneratePeerIDFromPublicKey derives a 160-bit peer ID from an ECDSA
// public key the way go-ethereum derives a 20-byte address from a pubkey:
// Keccak-256 over the uncompressed point (salted for this network), keeping
// the low 20 bytes.
func GeneratePeerIDFromPublicKey(pubKey *ecdsa.PublicKey) PeerID {
	pubKeyBytes, _ := pubKey.Bytes()
	dataToHash := append(append([]byte{}, pubKeyBytes...), []byte(constants.Salt)...)
	digest := crypto.Keccak256(dataToHash)

	var peerID PeerID
	copy(peerID[:], digest[len(digest)-constants.KeySizeBytes:])
	return peerID
}

// CheckPublicKeyMatchesPeerID reports whether pubKey hashes to pid.
func CheckPublicKeyMatchesPeerID(pubKey *ecdsa.PublicKey, pid PeerID) bool {
	generatedPID := GeneratePeerIDFromPublicKey(pubKey)
	return generatedPID == pid
}

func GenerateSecureRandomMessage() string {
	return rand.Text()
}

func SignMessage(privateKey ecdsa.PrivateKey, message string) []byte {
	hashedMessage := sha256.Sum256([]byte(message))
	signature, err := ecdsa.SignASN1(rand.Reader, &privateKey, hashedMessage[:])
	if err != nil {
		log.Fatal("Error signing message:", err)
	}
	return signature
}

func VerifySignature(publicKey ecdsa.PublicKey, message string, signature []byte) bool {
	hashedMessage := sha256.Sum256([]byte(message))
	return ecdsa.VerifyASN1(&publicKey, hashedMessage[:], signature)
}

// VerifyIdentity checks that privateKey's public half matches peerID and
// that it actually produces verifiable signatures. Run once at startup so a
// corrupted or mismatched key file fails fast instead of silently minting a
// node nobody can authenticate against later.
func VerifyIdentity(privateKey *ecdsa.PrivateKey, peerID PeerID) bool {
	if !CheckPublicKeyMatchesPeerID(&privateKey.PublicKey, peerID) {
		log.Println("Error: Public Key does not match Peer ID")
		return false
	}

	message := GenerateSecureRandomMessage()
	signature := SignMessage(*privateKey, message)
	if !VerifySignature(privateKey.PublicKey, message, signature) {
		log.Println("Error: Cryptographic signature verification failed")
		return false
	}

	return true
}
