package ccda

import "encoding/xml"

// CDA namespaces and the eICR / RR identifiers the refiner keys on.
const (
	// CDA namespace
	CDANamespace  = "urn:hl7-org:v3"
	XSINamespace  = "http://www.w3.org/2001/XMLSchema-instance"
	SDTCNamespace = "urn:hl7-org:sdtc"

	// Document-level template IDs
	OIDUSRealmHeader       = "2.16.840.1.113883.10.20.22.1.1"
	OIDEICRDocument        = "2.16.840.1.113883.10.20.15.2"
	OIDReportabilityResult = "2.16.840.1.113883.10.20.15.2.1.2"

	// RR template IDs
	OIDRRSummarySection            = "2.16.840.1.113883.10.20.15.2.2.5"
	OIDRRCodedInformationOrganizer = "2.16.840.1.113883.10.20.15.2.3.34"
	OIDRelevantReportableCondition = "2.16.840.1.113883.10.20.15.2.3.12"

	// eICR trigger code templates
	OIDTriggerCodeProblem          = "2.16.840.1.113883.10.20.15.2.3.3"
	OIDTriggerCodeResult           = "2.16.840.1.113883.10.20.15.2.3.2"
	OIDTriggerCodeLabTestOrder     = "2.16.840.1.113883.10.20.15.2.3.4"
	OIDTriggerCodeManualInitiation = "2.16.840.1.113883.10.20.15.2.3.5"
	OIDTriggerCodeMedication       = "2.16.840.1.113883.10.20.15.2.3.36"

	// LOINC codes for eICR section identification
	LOINCEncounters              = "46240-8"
	LOINCHistoryOfPresentIllness = "10164-2"
	LOINCImmunizations           = "11369-6"
	LOINCMedicationsAdministered = "29549-3"
	LOINCMedications             = "10160-0"
	LOINCPlanOfTreatment         = "18776-5"
	LOINCProblems                = "11450-4"
	LOINCProcedures              = "47519-4"
	LOINCReasonForVisit          = "29299-5"
	LOINCResults                 = "30954-2"
	LOINCSocialHistory           = "29762-2"
	LOINCVitalSigns              = "8716-3"
	LOINCPregnancy               = "90767-5"
	LOINCEmergencyOutbreak       = "83910-0"
	LOINCReviewOfSystems         = "10187-3"

	// LOINC code of the RR section that lists reportable conditions
	LOINCRRSummary = "55112-7"

	// Code system OIDs
	OIDLOINC  = "2.16.840.1.113883.6.1"
	OIDSNOMED = "2.16.840.1.113883.6.96"
	OIDRxNorm = "2.16.840.1.113883.6.88"
	OIDICD10  = "2.16.840.1.113883.6.90"
	OIDCVX    = "2.16.840.1.113883.12.292"
)

// TriggerCodeTemplates lists the eICR entry templates that carry the codes
// which caused the case report to be sent.
var TriggerCodeTemplates = []string{
	OIDTriggerCodeProblem,
	OIDTriggerCodeResult,
	OIDTriggerCodeLabTestOrder,
	OIDTriggerCodeManualInitiation,
	OIDTriggerCodeMedication,
}

// Namespaces maps the prefixes usable in refiner XPath expressions.
var Namespaces = map[string]string{
	"hl7":  CDANamespace,
	"xsi":  XSINamespace,
	"sdtc": SDTCNamespace,
}

// Narrative holds the human-readable narrative block for a section.
type Narrative struct {
	XMLName   xml.Name        `xml:"text"`
	Paragraph string          `xml:"paragraph,omitempty"`
	Table     *NarrativeTable `xml:"table,omitempty"`
}

// NarrativeTable is a simplified HTML table for section narratives.
type NarrativeTable struct {
	Border string          `xml:"border,attr,omitempty"`
	Thead  *NarrativeThead `xml:"thead,omitempty"`
	Tbody  *NarrativeTbody `xml:"tbody,omitempty"`
}

// NarrativeThead is a table header.
type NarrativeThead struct {
	Tr *NarrativeTr `xml:"tr,omitempty"`
}

// NarrativeTbody is a table body.
type NarrativeTbody struct {
	Trs []NarrativeTr `xml:"tr,omitempty"`
}

// NarrativeTr is a table row.
type NarrativeTr struct {
	Ths []string `xml:"th,omitempty"`
	Tds []string `xml:"td,omitempty"`
}
