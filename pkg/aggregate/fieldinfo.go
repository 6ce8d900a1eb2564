package aggregate

import (
	"fmt"

	"github.com/arraydb/tileagg/pkg/field"
)

// Input-field shape validation, shared by the operation factory and the
// direct constructors so both paths reject the same shapes at construction
// time.

// validateNumericInput checks the shape of an input field for SUM, MEAN and
// numeric MIN/MAX: a fixed-size, single-value numeric column.
func validateNumericInput(aggName string, f field.Info) error {
	if !f.Type.IsNumeric() {
		return fmt.Errorf("%w: %s on %s field %q", ErrUnsupportedDatatype, aggName, f.Type, f.Name)
	}
	if f.VarSized {
		return fmt.Errorf("%w: %s on %q", ErrVarSized, aggName, f.Name)
	}
	if f.CellValNum != 1 {
		return fmt.Errorf("%w: %s on %q has cell_val_num %d, want 1",
			ErrInvalidCellValNum, aggName, f.Name, f.CellValNum)
	}
	return nil
}

// validateStringInput checks the shape of an input field for string
// MIN/MAX: var-sized columns must use the var cell_val_num sentinel, fixed
// columns must hold a single value per cell.
func validateStringInput(aggName string, f field.Info) error {
	if !f.Type.IsString() {
		return fmt.Errorf("%w: %s on %s field %q", ErrUnsupportedDatatype, aggName, f.Type, f.Name)
	}
	if f.VarSized {
		if f.CellValNum != field.CellValNumVar {
			return fmt.Errorf("%w: var-sized %s on %q has cell_val_num %d",
				ErrInvalidCellValNum, aggName, f.Name, f.CellValNum)
		}
		return nil
	}
	if f.CellValNum != 1 {
		return fmt.Errorf("%w: %s on %q has cell_val_num %d, want 1",
			ErrInvalidCellValNum, aggName, f.Name, f.CellValNum)
	}
	return nil
}
