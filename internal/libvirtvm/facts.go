package libvirtvm

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"
)

const (
	// factsNamespace is the XML namespace for the guest-fact metadata
	// element stored on each domain.
	factsNamespace = "https://github.com/atsukotakahashi/ops/facts"

	// factsKey is the element key for the fact metadata.
	factsKey = "ops-facts"
)

// factsMetadata wraps the fact mapping for storage in domain XML
// metadata. The mapping itself is YAML text for easy inspection with
// virsh dumpxml.
type factsMetadata struct {
	XMLName xml.Name `xml:"facts"`
	Xmlns   string   `xml:"xmlns,attr"`
	Facts   string   `xml:",innerxml"`
}

// loadFacts reads the fact mapping from a domain's metadata. A domain
// without the metadata element has no facts.
func loadFacts(c libvirtClient, dom libvirt.Domain) (map[string]string, error) {
	raw, err := c.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{factsNamespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		// Metadata lookup fails when the element was never set; treat
		// that as an empty fact mapping.
		return map[string]string{}, nil
	}

	var meta factsMetadata
	if err := xml.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse fact metadata: %w", err)
	}
	facts := map[string]string{}
	if err := yaml.Unmarshal([]byte(meta.Facts), &facts); err != nil {
		return nil, fmt.Errorf("failed to parse fact mapping: %w", err)
	}
	if facts == nil {
		facts = map[string]string{}
	}
	return facts, nil
}

// storeFacts replaces the fact mapping in a domain's metadata.
func storeFacts(c libvirtClient, dom libvirt.Domain, facts map[string]string) error {
	yamlData, err := yaml.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to serialise fact mapping: %w", err)
	}
	xmlData, err := xml.MarshalIndent(factsMetadata{
		Xmlns: factsNamespace,
		Facts: string(yamlData),
	}, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialise fact metadata: %w", err)
	}

	return c.DomainSetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{factsKey},
		libvirt.OptString{factsNamespace},
		libvirt.DomainModificationImpact(0),
	)
}
