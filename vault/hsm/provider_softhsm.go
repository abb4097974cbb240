//go:build softhsm

// Package hsm provides a PKCS#11-backed key provider for the token vault.
// Enabled via the softhsm build tag so the default build does not depend on a
// PKCS#11 library. Keys must be created extractable; this is a SoftHSM
// development posture, production HSMs keep keys inside the module.
package hsm

import (
	"fmt"

	"github.com/miekg/pkcs11"
)

type SoftHSMProvider struct {
	libPath  string
	slotID   uint
	pin      string
	keyLabel string

	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	key  pkcs11.ObjectHandle
}

func NewSoftHSMProvider(libPath string, slotID uint, pin, keyLabel string) *SoftHSMProvider {
	return &SoftHSMProvider{libPath: libPath, slotID: slotID, pin: pin, keyLabel: keyLabel}
}

func (p *SoftHSMProvider) Open() error {
	p.p11 = pkcs11.New(p.libPath)
	if p.p11 == nil {
		return fmt.Errorf("load pkcs11 lib failed")
	}
	if err := p.p11.Initialize(); err != nil {
		return err
	}
	sess, err := p.p11.OpenSession(pkcs11.SlotID(p.slotID), pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = p.p11.Finalize()
		return err
	}
	p.sess = sess
	if err := p.p11.Login(p.sess, pkcs11.CKU_USER, p.pin); err != nil {
		_ = p.p11.CloseSession(p.sess)
		_ = p.p11.Finalize()
		return err
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, p.keyLabel),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_AES),
	}
	if err := p.p11.FindObjectsInit(p.sess, template); err != nil {
		return err
	}
	objs, _, err := p.p11.FindObjects(p.sess, 1)
	_ = p.p11.FindObjectsFinal(p.sess)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return fmt.Errorf("vault key not found by label=%s", p.keyLabel)
	}
	p.key = objs[0]
	return nil
}

func (p *SoftHSMProvider) Close() {
	if p.p11 != nil {
		if p.sess != 0 {
			_ = p.p11.Logout(p.sess)
			_ = p.p11.CloseSession(p.sess)
		}
		_ = p.p11.Finalize()
		p.p11.Destroy()
		p.p11 = nil
	}
}

// Active extracts the AES-256 key value for use by the vault's AEAD.
func (p *SoftHSMProvider) Active() ([]byte, error) {
	if p.p11 == nil {
		return nil, fmt.Errorf("provider not opened")
	}
	attrs, err := p.p11.GetAttributeValue(p.sess, p.key, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("get key value: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) != 32 {
		return nil, fmt.Errorf("vault key must be AES-256")
	}
	return attrs[0].Value, nil
}

// Previous returns no keys: rotation windows with an HSM are handled by
// keeping the prior key object under a versioned label, not implemented for
// the SoftHSM development provider.
func (p *SoftHSMProvider) Previous() [][]byte { return nil }
