package hla

// ResignAction decides what happens to a federate's objects when it resigns.
type ResignAction uint8

// Resign actions.
const (
	ResignNoAction            ResignAction = iota // ResignNoAction leaves objects in place
	ResignDeleteObjects                           // ResignDeleteObjects deletes objects whose privilege to delete is held
	ResignDivestAttributes                        // ResignDivestAttributes releases every owned attribute
	ResignDeleteObjectsDivest                     // ResignDeleteObjectsDivest deletes what it can, then divests the rest
)

// Deletes reports whether the action deletes owned objects.
func (a ResignAction) Deletes() bool {
	return a == ResignDeleteObjects || a == ResignDeleteObjectsDivest
}

// Divests reports whether the action releases owned attributes.
func (a ResignAction) Divests() bool {
	return a == ResignDivestAttributes || a == ResignDeleteObjectsDivest
}
