package aggregate

import "fmt"

// QueryBuffer describes a caller-owned destination for one aggregate result.
// The original sizes are recorded at bind time and used to detect results
// that do not fit the destination, which is distinct from arithmetic
// overflow of an accumulator.
type QueryBuffer struct {
	// Data receives the fixed-size part of the result.
	Data []byte
	// DataSize, if non-nil, receives the number of bytes written to Data.
	DataSize *uint64

	// Var receives the var-length payload of a var-sized result.
	Var []byte
	// VarSize, if non-nil, receives the number of payload bytes written.
	VarSize *uint64

	// Validity receives the result validity byte for nullable results.
	Validity []uint8
	// ValiditySize, if non-nil, receives the number of validity bytes written.
	ValiditySize *uint64

	// OriginalDataSize is the capacity of Data recorded at bind time.
	OriginalDataSize uint64
	// OriginalVarSize is the capacity of Var recorded at bind time.
	OriginalVarSize uint64
	// OriginalValiditySize is the capacity of Validity recorded at bind time.
	OriginalValiditySize uint64
}

// Bind returns a QueryBuffer over caller-owned slices, recording their
// capacities as the original sizes.
func Bind(data []byte, dataSize *uint64, varData []byte, varSize *uint64, validity []uint8, validitySize *uint64) *QueryBuffer {
	return &QueryBuffer{
		Data:                 data,
		DataSize:             dataSize,
		Var:                  varData,
		VarSize:              varSize,
		Validity:             validity,
		ValiditySize:         validitySize,
		OriginalDataSize:     uint64(len(data)),
		OriginalVarSize:      uint64(len(varData)),
		OriginalValiditySize: uint64(len(validity)),
	}
}

// lookupBuffer finds the destination bound for an output field.
func lookupBuffer(outputField string, buffers map[string]*QueryBuffer) (*QueryBuffer, error) {
	qb, ok := buffers[outputField]
	if !ok || qb == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingBuffer, outputField)
	}
	return qb, nil
}

// validateFixedResult checks the shape of a destination for a fixed-size
// scalar result of elemSize bytes. The destination must hold exactly one
// element, must not carry a var buffer, and must carry exactly one validity
// byte when (and only when) the result is nullable.
func validateFixedResult(outputField string, buffers map[string]*QueryBuffer, elemSize uint64, nullable bool) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}
	if qb.OriginalDataSize != elemSize {
		return fmt.Errorf("%w: field %q has %d bytes, want %d",
			ErrBufferSize, outputField, qb.OriginalDataSize, elemSize)
	}
	if qb.Var != nil || qb.OriginalVarSize != 0 {
		return fmt.Errorf("%w: field %q", ErrUnexpectedVarBuffer, outputField)
	}
	return validateValidity(outputField, qb, nullable)
}

// validateVarResult checks the shape of a destination for a var-sized
// result: one offset element in the fixed buffer plus a non-empty var
// buffer. The var capacity itself is only checked against the value at
// materialization time, since the result length is not known up front.
func validateVarResult(outputField string, buffers map[string]*QueryBuffer, offsetSize uint64, nullable bool) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}
	if qb.OriginalDataSize != offsetSize {
		return fmt.Errorf("%w: field %q has %d offset bytes, want %d",
			ErrBufferSize, outputField, qb.OriginalDataSize, offsetSize)
	}
	if qb.Var == nil {
		return fmt.Errorf("%w: %q", ErrMissingVarBuffer, outputField)
	}
	return validateValidity(outputField, qb, nullable)
}

func validateValidity(outputField string, qb *QueryBuffer, nullable bool) error {
	if nullable {
		if qb.Validity == nil || qb.OriginalValiditySize != 1 {
			return fmt.Errorf("%w: field %q requires one validity byte",
				ErrValidityBuffer, outputField)
		}
		return nil
	}
	if qb.Validity != nil || qb.OriginalValiditySize != 0 {
		return fmt.Errorf("%w: field %q is not nullable", ErrValidityBuffer, outputField)
	}
	return nil
}

// setSizes records the written byte counts on the destination.
func (qb *QueryBuffer) setSizes(dataSize, varSize uint64, nullable bool) {
	if qb.DataSize != nil {
		*qb.DataSize = dataSize
	}
	if qb.VarSize != nil {
		*qb.VarSize = varSize
	}
	if nullable && qb.ValiditySize != nil {
		*qb.ValiditySize = 1
	}
}
