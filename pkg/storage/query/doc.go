// Package query evaluates MongoDB-style filters, update modifiers,
// projections and sort specifications against in-memory documents.
//
// Supported filter operators: $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin,
// $exists, $and, $or, $nor. Field paths may be dotted. A filter value that is
// not an operator document is an implicit $eq; equality against an array field
// matches when any element is equal.
//
// Supported update operators: $set, $unset, $inc, $setOnInsert. A modifier
// without operator keys is a replacement document.
package query
