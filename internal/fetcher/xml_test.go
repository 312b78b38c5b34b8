package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type diagElem struct {
	DiagnosisID string `xml:"diagnosisId"`
	EncounterID string `xml:"encounterId"`
	Code        struct {
		Value  string `xml:",chardata"`
		System string `xml:"system,attr"`
	} `xml:"code"`
}

const diagDoc = `<?xml version="1.0" encoding="UTF-8"?>
<diagnoses>
  <diagnosis>
    <diagnosisId>d1</diagnosisId>
    <encounterId>e1</encounterId>
    <code system="ICD-10">I10</code>
  </diagnosis>
  <diagnosis>
    <diagnosisId>d2</diagnosisId>
    <encounterId>e2</encounterId>
    <code>E11.9</code>
  </diagnosis>
</diagnoses>`

func TestStreamXML(t *testing.T) {
	outCh, errCh := StreamXML[diagElem](context.Background(), strings.NewReader(diagDoc), "diagnosis")

	var items []diagElem
	for item := range outCh {
		items = append(items, item)
	}
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, items, 2)
	assert.Equal(t, "d1", items[0].DiagnosisID)
	assert.Equal(t, "I10", items[0].Code.Value)
	assert.Equal(t, "ICD-10", items[0].Code.System)
	assert.Equal(t, "d2", items[1].DiagnosisID)
	assert.Empty(t, items[1].Code.System)
}

func TestStreamXML_MalformedDocument(t *testing.T) {
	outCh, errCh := StreamXML[diagElem](context.Background(), strings.NewReader("<diagnoses><diagnosis>"), "diagnosis")
	for range outCh {
	}
	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	require.Error(t, gotErr)
}

func TestStreamXML_NoMatchingElements(t *testing.T) {
	outCh, errCh := StreamXML[diagElem](context.Background(), strings.NewReader("<root><other/></root>"), "diagnosis")
	count := 0
	for range outCh {
		count++
	}
	for err := range errCh {
		require.NoError(t, err)
	}
	assert.Zero(t, count)
}

func TestStreamXML_LegacyCharset(t *testing.T) {
	// ISO-8859-1 declared; é is byte 0xE9 in that encoding.
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><diagnoses><diagnosis><diagnosisId>d\xe9</diagnosisId></diagnosis></diagnoses>"
	outCh, errCh := StreamXML[diagElem](context.Background(), strings.NewReader(doc), "diagnosis")

	var items []diagElem
	for item := range outCh {
		items = append(items, item)
	}
	for err := range errCh {
		require.NoError(t, err)
	}
	require.Len(t, items, 1)
	assert.Equal(t, "dé", items[0].DiagnosisID)
}
