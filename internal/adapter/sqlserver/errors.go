package sqlserver

import (
	"errors"
	"fmt"

	mssql "github.com/denisenkom/go-mssqldb"
)

// asServerError extracts the engine error, whichever form the driver used.
func asServerError(err error) (mssql.Error, bool) {
	var byValue mssql.Error
	if errors.As(err, &byValue) {
		return byValue, true
	}
	var byPointer *mssql.Error
	if errors.As(err, &byPointer) && byPointer != nil {
		return *byPointer, true
	}
	return mssql.Error{}, false
}

// describeError renders err for the caller, appending "(Line N)" and
// "[Error C]" when the engine reported them.
func describeError(err error) string {
	if err == nil {
		return ""
	}
	srvErr, ok := asServerError(err)
	if !ok {
		return err.Error()
	}
	msg := srvErr.Message
	if msg == "" {
		msg = err.Error()
	}
	if srvErr.LineNo > 0 {
		msg += fmt.Sprintf(" (Line %d)", srvErr.LineNo)
	}
	if srvErr.Number != 0 {
		msg += fmt.Sprintf(" [Error %d]", srvErr.Number)
	}
	return msg
}
