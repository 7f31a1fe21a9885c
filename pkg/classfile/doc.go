// Package classfile reads, edits and writes JVM class files (major
// versions 45 through 52).
//
// Parse decodes a class into a ClassFile whose methods carry a decoded
// instruction list. Branch targets are Label pointers placed in the list
// by LABEL pseudo instructions, so code can be inserted anywhere without
// fixing offsets by hand. Compact encodings are normalized on decode:
// iload_1 becomes ILOAD with Var 1, ldc_w becomes LDC and goto_w becomes
// GOTO.
//
// # Round trip
//
// Serialize writes untouched methods and the constant pool back from the
// bytes they were parsed from, so Parse followed by Serialize reproduces
// the input exactly. A method marked with MarkModified is re-assembled:
//
//   - unreachable instructions are removed
//   - branch offsets are laid out, promoting goto to goto_w when needed
//   - exception, line number and local variable tables are remapped
//   - max_stack, max_locals and (for major 50 and later) StackMapTable
//     are recomputed by dataflow analysis
//
// Re-assembly fails with ErrUnrepresentableUnit when the result cannot
// be a valid class file, for example a conditional branch that no longer
// fits in 16 bits or a subroutine (jsr/ret) that frames cannot describe.
//
// # Frames
//
// Analyze runs the same dataflow pass on its own. Merging two different
// reference types asks the ClassFile's Hierarchy for their common
// superclass; DefaultHierarchy answers java/lang/Object.
package classfile
