package quic

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/TheusHen/cocstress/coc/identity"
)

const (
	ALPN = "cocstress/1"

	certLifetime = 24 * time.Hour
)

// deviceCertificate self-signs a certificate for the device key, named after
// the device address.
func deviceCertificate(kp identity.KeyPair) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	tpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: kp.Address().String()},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: kp.PrivateKey}, nil
}

// newTLSConfig serves both ends of a link. Certificates are not verified:
// the signed hello binds a link to a device address.
func newTLSConfig(kp identity.KeyPair) (*tls.Config, error) {
	cert, err := deviceCertificate(kp)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: true,
	}, nil
}
