package pe

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"debug/pe"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// SignatureInfo describes the Authenticode signature of the target. Any
// byte change to the file invalidates it.
type SignatureInfo struct {
	IsSigned        bool
	Offset          uint32
	Size            uint32
	Certificates    []CertificateInfo
	DigestAlgorithm string
}

// CertificateInfo contains information about a certificate in the signature chain.
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
}

// WIN_CERTIFICATE structure.
type winCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

// PE signature constants (Windows SDK naming convention).
//
//nolint:revive // ALL_CAPS matches Windows SDK naming
const (
	WIN_CERT_REVISION_2_0          = 0x0200
	WIN_CERT_TYPE_PKCS_SIGNED_DATA = 0x0002
)

const securityDirectoryIndex = 4

// VerifySignature reads the security directory and the certificates in it.
// A file without a security directory returns IsSigned false and no error.
func VerifySignature(f *pe.File, r io.ReaderAt) (*SignatureInfo, error) {
	info := &SignatureInfo{}

	dir := dataDirectory(f, securityDirectoryIndex)

	// The security directory holds a file offset, not an RVA.
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return info, nil
	}
	info.IsSigned = true
	info.Offset = dir.VirtualAddress
	info.Size = dir.Size

	offset := int64(dir.VirtualAddress)

	var cert winCertificate
	err := binary.Read(io.NewSectionReader(r, offset, int64(dir.Size)), binary.LittleEndian, &cert)
	if err != nil {
		return info, fmt.Errorf("read certificate header: %w", err)
	}

	if cert.Revision != WIN_CERT_REVISION_2_0 || cert.CertificateType != WIN_CERT_TYPE_PKCS_SIGNED_DATA {
		return info, fmt.Errorf("unsupported certificate type 0x%X revision 0x%X", cert.CertificateType, cert.Revision)
	}
	if cert.Length < 8 || cert.Length > dir.Size {
		return info, fmt.Errorf("certificate length %d out of range", cert.Length)
	}

	certData := make([]byte, cert.Length-8)
	if _, err := r.ReadAt(certData, offset+8); err != nil {
		return info, fmt.Errorf("read certificate data: %w", err)
	}

	if err := parsePKCS7(certData, info); err != nil {
		return info, fmt.Errorf("parse PKCS#7 signature: %w", err)
	}

	return info, nil
}

// PKCS#7 ContentInfo structure.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// PKCS#7 SignedData structure (simplified).
type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      contentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

func parsePKCS7(data []byte, info *SignatureInfo) error {
	var content contentInfo
	if _, err := asn1.Unmarshal(data, &content); err != nil {
		return err
	}

	var signed signedData
	if _, err := asn1.Unmarshal(content.Content.Bytes, &signed); err != nil {
		return err
	}

	if len(signed.DigestAlgorithms) > 0 {
		info.DigestAlgorithm = signed.DigestAlgorithms[0].Algorithm.String()
	}

	if signed.Certificates.Bytes != nil {
		certs, err := x509.ParseCertificates(signed.Certificates.Bytes)
		if err == nil {
			for _, cert := range certs {
				info.Certificates = append(info.Certificates, CertificateInfo{
					Subject:   cert.Subject.String(),
					Issuer:    cert.Issuer.String(),
					NotBefore: cert.NotBefore,
					NotAfter:  cert.NotAfter,
				})
			}
		}
	}

	return nil
}
