package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// SecurityConfig carries the broker TLS and SASL settings shared by the
// producer and the consumer.
type SecurityConfig struct {
	SASLEnabled   bool
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
	TLSEnabled    bool
	TLSCertPath   string
}

func (s SecurityConfig) validate() error {
	if s.SASLEnabled {
		switch s.SASLMechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return errors.New(errors.ErrCodeValidation, "unsupported SASL mechanism").WithDetail(s.SASLMechanism)
		}
		if s.SASLUsername == "" || s.SASLPassword == "" {
			return errors.New(errors.ErrCodeValidation, "SASL credentials required")
		}
	}
	return nil
}

// tlsConfig returns nil when TLS is off.  A CA bundle path that cannot be
// read is an error, never a silent downgrade.
func (s SecurityConfig) tlsConfig() (*tls.Config, error) {
	if !s.TLSEnabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.TLSCertPath == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(s.TLSCertPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "read kafka CA bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New(errors.ErrCodeValidation, "kafka CA bundle holds no certificates").WithDetail(s.TLSCertPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func (s SecurityConfig) mechanism() (sasl.Mechanism, error) {
	if !s.SASLEnabled {
		return nil, nil
	}
	var (
		mech sasl.Mechanism
		err  error
	)
	switch s.SASLMechanism {
	case "PLAIN":
		mech = plain.Mechanism{Username: s.SASLUsername, Password: s.SASLPassword}
	case "SCRAM-SHA-256":
		mech, err = scram.Mechanism(scram.SHA256, s.SASLUsername, s.SASLPassword)
	case "SCRAM-SHA-512":
		mech, err = scram.Mechanism(scram.SHA512, s.SASLUsername, s.SASLPassword)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to create SASL mechanism")
	}
	return mech, nil
}

//Personal.AI order the ending
