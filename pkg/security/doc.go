/*
Package security provides cryptographic services for the Theater runtime.

This package implements three core security capabilities: secrets encryption
using AES-256-GCM, a Certificate Authority (CA) for mutual TLS (mTLS), and
certificate lifecycle management. Together these provide end-to-end
encryption for sensitive data and secure authentication for every connection
to the External Management Surface (pkg/management).

# Architecture

The runtime's security architecture is built on three pillars:

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│   Secrets   │      │       CA       │   │ Certificate  │
	│ Encryption  │      │  (Root only)   │   │  Management  │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  AES-256-GCM         RSA 4096-bit          90-day validity
	  Secret values        10-year validity      Rotation check (<30 days left)

## Runtime Encryption Key

All security is rooted in the runtime encryption key, a 32-byte key derived
from the runtime ID during initialization:

	runtimeKey = SHA-256(runtimeID)  // 32 bytes for AES-256

This key encrypts:
  - Secret values (types.Secret, via SecretStore)
  - CA private key (in db.go's bbolt-backed DB)

The key is held only in memory by the process that opened the runtime's
security database and must be supplied again on restart or recovery.

# Secrets Encryption

## SecretsManager

SecretsManager encrypts and decrypts secret values (types.Secret,
SPEC_FULL.md §3) using AES-256 in Galois/Counter Mode (GCM), providing
authenticated encryption:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

Key features:
  - Authenticated encryption (integrity + confidentiality)
  - Random nonce per encryption (no nonce reuse)
  - Fast performance (~100MB/s on modern CPUs)

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

This ensures each secret has a unique nonce, preventing cryptographic attacks.

## Secret Storage Format

Secrets are stored encrypted in the package's bbolt-backed DB (db.go):

	Secret {
		ID:   "secret-abc123"
		Name: "database-password"
		Data: [nonce || ciphertext || tag]  // Binary data
	}

Secrets are deliberately never chain-addressed (SPEC_FULL.md §3): a secret's
plaintext must never be hashed into an actor's auditable chain.

Decryption reverses the process:

 1. Extract nonce (first 12 bytes)
 2. Extract ciphertext + tag (remaining bytes)
 3. Decrypt and verify authentication tag
 4. Return plaintext or error if tampered

# Certificate Authority

## Root CA

The runtime's CA uses a hierarchical structure with a long-lived root
certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Theater Root CA, O=Theater Runtime

The root CA is created during runtime initialization and stored encrypted:

	Root Certificate: Stored in the security DB (plaintext, public)
	Root Private Key: Stored in the security DB (encrypted with runtime key)

## Management Surface Certificates

The CA issues certificates for the External Management Surface's server and
every client that connects to it:

	Server Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN={role}-{id}, O=Theater Runtime
	├── DNS Names: [server hostname]
	└── IP Addresses: [server IP]

Each side of a management-surface connection holds a unique certificate for
mutual TLS authentication:

	Client ←→ mTLS ←→ management.Server
	   ↓                    ↓
	CA verifies        CA verifies
	server cert        client cert

## Client Certificates

CLI/SDK clients (pkg/client) also receive certificates for authentication:

	Client Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=Theater Runtime

This allows secure Client → Server communication without passwords.

# Usage Examples

## Creating a Secrets Manager

	import "github.com/cuemby/theater/pkg/security"

	// Method 1: From raw key (32 bytes)
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		panic(err)
	}

	sm, err := security.NewSecretsManager(key)
	if err != nil {
		panic(err)
	}

	// Method 2: From password (key derived via SHA-256)
	sm, err := security.NewSecretsManagerFromPassword("my-runtime-secret")
	if err != nil {
		panic(err)
	}

## Encrypting and Decrypting Secrets

	// Encrypt a database password
	plaintext := []byte("super-secret-password")
	ciphertext, err := sm.EncryptSecret(plaintext)
	if err != nil {
		panic(err)
	}

	// Store ciphertext in the security DB...

	// Later, decrypt the secret
	decrypted, err := sm.DecryptSecret(ciphertext)
	if err != nil {
		panic(err)  // Tampering detected or wrong key
	}

	fmt.Println(string(decrypted))  // "super-secret-password"

## Using SecretStore (encryption + persistence together)

	db, err := security.OpenDB(dataDir)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ss := security.NewSecretStore(db, sm)

	secret, err := ss.Create("db-password", []byte("my-password"))
	if err != nil {
		panic(err)
	}
	fmt.Println("Secret ID:", secret.ID)

	plaintext, err := ss.Get("db-password")
	if err != nil {
		panic(err)
	}

## Setting Up the Certificate Authority

	import "github.com/cuemby/theater/pkg/security"

	db, err := security.OpenDB(dataDir)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Set runtime encryption key (required for CA)
	runtimeKey := security.DeriveKeyFromRuntimeID(runtimeID)
	err = security.SetRuntimeEncryptionKey(runtimeKey)
	if err != nil {
		panic(err)
	}

	// Create and initialize CA
	ca := security.NewCertAuthority(db)
	err = ca.Initialize()  // Generates root CA
	if err != nil {
		panic(err)
	}

	// Save CA to storage (encrypted)
	err = ca.SaveToStore()
	if err != nil {
		panic(err)
	}

## Issuing Certificates

	dnsNames := []string{"runtime.internal", "localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("192.168.1.10"),
		net.ParseIP("127.0.0.1"),
	}

	tlsCert, err := ca.IssueNodeCertificate("management-surface", "server", dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}

	fmt.Println("Valid until:", tlsCert.Leaf.NotAfter)

## Verifying Certificates

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		panic(err)
	}

	err = ca.VerifyCertificate(cert)
	if err != nil {
		// Certificate invalid or not issued by this CA
		panic(err)
	}

## Certificate Rotation

	needsRotation := security.CertNeedsRotation(cert)

	if needsRotation {
		newTLSCert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
		if err != nil {
			panic(err)
		}

		certDir, _ := security.GetCertDir(role, nodeID)
		err = security.SaveCertToFile(newTLSCert, certDir)
		if err != nil {
			panic(err)
		}
	}

# Integration Points

## Storage Integration

Security artifacts are persisted in the package's own bbolt file (db.go),
separate from pkg/store's content-addressed blobs:

	Bucket: "ca"
	Key: "ca"
	Value: {RootCertDER: [...], RootKeyDER: [...encrypted...]}

	Bucket: "secrets"
	Key: {secret name}
	Value: {ID, Name, Data: [...encrypted...], CreatedAt, UpdatedAt}

The CA and secrets are always encrypted at rest.

## Management Surface Integration

pkg/management's Server loads its certificate and the CA cert from disk via
LoadCertFromFile/LoadCACertFromFile and requires+verifies client
certificates on every connection (tls.RequireAndVerifyClientCert). pkg/client
mirrors the same loading path for outbound connections.

# Design Patterns

## Authenticated Encryption

GCM mode provides both confidentiality and integrity:

	Encryption:  plaintext + key + nonce → ciphertext + tag
	Decryption:  ciphertext + tag + key + nonce → plaintext (or error)

The authentication tag prevents tampering:
  - Modified ciphertext → decryption fails
  - Wrong key → decryption fails
  - Wrong nonce → decryption fails

## Hierarchical PKI

The CA uses a standard hierarchical structure:

	Root CA (trust anchor)
	└── Server/Client Certificates (issued by root)

Benefits:
  - Root key rarely used (only for issuing certs)
  - Root can be offline for additional security
  - Revocation via CRL/OCSP (future enhancement)

## Key Derivation

The runtime encryption key is derived deterministically:

	runtimeKey = SHA-256(runtimeID)

This means:
  - Same runtime ID → same key (important for recovery)
  - Key can be recomputed without storage
  - Backup = runtime ID (must be kept secret!)

## Certificate Caching

The CA records every certificate it issues in memory, keyed by node or
client id:

	certCache[id] = {Cert, Key, IssuedAt, ExpiresAt}

GetCachedCert reads this record. IssueNodeCertificate and
IssueClientCertificate do not consult it: each call generates a new key
and certificate and replaces the record for that id.

# Security Considerations

## Threat Model

This package protects against:

	✓ Network eavesdropping (TLS encryption)
	✓ Unauthorized access (mTLS authentication)
	✓ Secret tampering (authenticated encryption)
	✓ Impersonation (CA-signed certificates)

It does NOT protect against:

	✗ Compromised runtime encryption key (all secrets exposed)
	✗ Compromised CA private key (issue fake certificates)
	✗ Physical access to storage (encrypted, but key in memory)

Defense in depth:
  - Encrypt storage volumes (LUKS, etc.)
  - Store the runtime ID in an encrypted vault
  - Audit all security operations

# See Also

  - pkg/management - External Management Surface, the primary mTLS consumer
  - pkg/client - SDK-side certificate loading
  - pkg/store - content-addressed store (not security-managed)
*/
package security
