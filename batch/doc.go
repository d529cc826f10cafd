// Package batch executes batches of parameterized SQL statements encoded in a
// compact flat text format and encodes their outcomes in the same format.
//
// Input:
//
//	dbid,2,"INSERT INTO t (a, b) VALUES (?, ?)",2,"x\"y",1.5,"SELECT a FROM t",0
//
// A header of a database identifier and a statement count is followed by one
// entry per statement: the quoted SQL text, the number of parameters and the
// parameters themselves. A parameter is null, true, false, a number (real if
// it contains a '.', integer otherwise) or a quoted string using the escapes
// \" \\ \n \t \r.
//
// Output:
//
//	["ch2",1,1,"okrows",1,"a","x\"y","endrows","bogus"]
//
// Each statement contributes exactly one frame, in statement order:
//
//	"okrows",{<n>,("<column>",<value>,){n}}*"endrows",   rows
//	"ch2",<rows affected>,<last insert id>,               changes
//	"ok",                                                 no rows, no changes
//	"error",0,<code>,"<message>",                         engine failure
//
// and the array is closed by the "bogus" sentinel.
//
// A Session owns the buffers for one connection. Structural errors in the
// input abort the whole batch with a *DecodeError; engine errors only affect
// the frame of the failing statement.
package batch
