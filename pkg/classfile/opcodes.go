package classfile

import "fmt"

// Opcode is a JVM instruction opcode. Values above 0xFF are pseudo
// instructions that exist only in a decoded instruction list.
type Opcode uint16

const (
	// ========================================================================
	// Constants (0x00-0x14)
	// ========================================================================

	NOP         Opcode = 0x00
	ACONST_NULL Opcode = 0x01
	ICONST_M1   Opcode = 0x02
	ICONST_0    Opcode = 0x03
	ICONST_1    Opcode = 0x04
	ICONST_2    Opcode = 0x05
	ICONST_3    Opcode = 0x06
	ICONST_4    Opcode = 0x07
	ICONST_5    Opcode = 0x08
	LCONST_0    Opcode = 0x09
	LCONST_1    Opcode = 0x0A
	FCONST_0    Opcode = 0x0B
	FCONST_1    Opcode = 0x0C
	FCONST_2    Opcode = 0x0D
	DCONST_0    Opcode = 0x0E
	DCONST_1    Opcode = 0x0F
	BIPUSH      Opcode = 0x10
	SIPUSH      Opcode = 0x11
	LDC         Opcode = 0x12
	LDC_W       Opcode = 0x13
	LDC2_W      Opcode = 0x14

	// ========================================================================
	// Loads (0x15-0x35)
	// ========================================================================

	ILOAD   Opcode = 0x15
	LLOAD   Opcode = 0x16
	FLOAD   Opcode = 0x17
	DLOAD   Opcode = 0x18
	ALOAD   Opcode = 0x19
	ILOAD_0 Opcode = 0x1A // through ALOAD_3 (0x2D); decoded into the long form
	ALOAD_3 Opcode = 0x2D
	IALOAD  Opcode = 0x2E
	LALOAD  Opcode = 0x2F
	FALOAD  Opcode = 0x30
	DALOAD  Opcode = 0x31
	AALOAD  Opcode = 0x32
	BALOAD  Opcode = 0x33
	CALOAD  Opcode = 0x34
	SALOAD  Opcode = 0x35

	// ========================================================================
	// Stores (0x36-0x56)
	// ========================================================================

	ISTORE   Opcode = 0x36
	LSTORE   Opcode = 0x37
	FSTORE   Opcode = 0x38
	DSTORE   Opcode = 0x39
	ASTORE   Opcode = 0x3A
	ISTORE_0 Opcode = 0x3B // through ASTORE_3 (0x4E); decoded into the long form
	ASTORE_3 Opcode = 0x4E
	IASTORE  Opcode = 0x4F
	LASTORE  Opcode = 0x50
	FASTORE  Opcode = 0x51
	DASTORE  Opcode = 0x52
	AASTORE  Opcode = 0x53
	BASTORE  Opcode = 0x54
	CASTORE  Opcode = 0x55
	SASTORE  Opcode = 0x56

	// ========================================================================
	// Stack (0x57-0x5F)
	// ========================================================================

	POP     Opcode = 0x57
	POP2    Opcode = 0x58
	DUP     Opcode = 0x59
	DUP_X1  Opcode = 0x5A
	DUP_X2  Opcode = 0x5B
	DUP2    Opcode = 0x5C
	DUP2_X1 Opcode = 0x5D
	DUP2_X2 Opcode = 0x5E
	SWAP    Opcode = 0x5F

	// ========================================================================
	// Math (0x60-0x84)
	// ========================================================================

	IADD  Opcode = 0x60
	LADD  Opcode = 0x61
	FADD  Opcode = 0x62
	DADD  Opcode = 0x63
	ISUB  Opcode = 0x64
	LSUB  Opcode = 0x65
	FSUB  Opcode = 0x66
	DSUB  Opcode = 0x67
	IMUL  Opcode = 0x68
	LMUL  Opcode = 0x69
	FMUL  Opcode = 0x6A
	DMUL  Opcode = 0x6B
	IDIV  Opcode = 0x6C
	LDIV  Opcode = 0x6D
	FDIV  Opcode = 0x6E
	DDIV  Opcode = 0x6F
	IREM  Opcode = 0x70
	LREM  Opcode = 0x71
	FREM  Opcode = 0x72
	DREM  Opcode = 0x73
	INEG  Opcode = 0x74
	LNEG  Opcode = 0x75
	FNEG  Opcode = 0x76
	DNEG  Opcode = 0x77
	ISHL  Opcode = 0x78
	LSHL  Opcode = 0x79
	ISHR  Opcode = 0x7A
	LSHR  Opcode = 0x7B
	IUSHR Opcode = 0x7C
	LUSHR Opcode = 0x7D
	IAND  Opcode = 0x7E
	LAND  Opcode = 0x7F
	IOR   Opcode = 0x80
	LOR   Opcode = 0x81
	IXOR  Opcode = 0x82
	LXOR  Opcode = 0x83
	IINC  Opcode = 0x84

	// ========================================================================
	// Conversions and comparisons (0x85-0x98)
	// ========================================================================

	I2L   Opcode = 0x85
	I2F   Opcode = 0x86
	I2D   Opcode = 0x87
	L2I   Opcode = 0x88
	L2F   Opcode = 0x89
	L2D   Opcode = 0x8A
	F2I   Opcode = 0x8B
	F2L   Opcode = 0x8C
	F2D   Opcode = 0x8D
	D2I   Opcode = 0x8E
	D2L   Opcode = 0x8F
	D2F   Opcode = 0x90
	I2B   Opcode = 0x91
	I2C   Opcode = 0x92
	I2S   Opcode = 0x93
	LCMP  Opcode = 0x94
	FCMPL Opcode = 0x95
	FCMPG Opcode = 0x96
	DCMPL Opcode = 0x97
	DCMPG Opcode = 0x98

	// ========================================================================
	// Control (0x99-0xB1)
	// ========================================================================

	IFEQ         Opcode = 0x99
	IFNE         Opcode = 0x9A
	IFLT         Opcode = 0x9B
	IFGE         Opcode = 0x9C
	IFGT         Opcode = 0x9D
	IFLE         Opcode = 0x9E
	IF_ICMPEQ    Opcode = 0x9F
	IF_ICMPNE    Opcode = 0xA0
	IF_ICMPLT    Opcode = 0xA1
	IF_ICMPGE    Opcode = 0xA2
	IF_ICMPGT    Opcode = 0xA3
	IF_ICMPLE    Opcode = 0xA4
	IF_ACMPEQ    Opcode = 0xA5
	IF_ACMPNE    Opcode = 0xA6
	GOTO         Opcode = 0xA7
	JSR          Opcode = 0xA8
	RET          Opcode = 0xA9
	TABLESWITCH  Opcode = 0xAA
	LOOKUPSWITCH Opcode = 0xAB
	IRETURN      Opcode = 0xAC
	LRETURN      Opcode = 0xAD
	FRETURN      Opcode = 0xAE
	DRETURN      Opcode = 0xAF
	ARETURN      Opcode = 0xB0
	RETURN       Opcode = 0xB1

	// ========================================================================
	// References (0xB2-0xC3)
	// ========================================================================

	GETSTATIC       Opcode = 0xB2
	PUTSTATIC       Opcode = 0xB3
	GETFIELD        Opcode = 0xB4
	PUTFIELD        Opcode = 0xB5
	INVOKEVIRTUAL   Opcode = 0xB6
	INVOKESPECIAL   Opcode = 0xB7
	INVOKESTATIC    Opcode = 0xB8
	INVOKEINTERFACE Opcode = 0xB9
	INVOKEDYNAMIC   Opcode = 0xBA
	NEW             Opcode = 0xBB
	NEWARRAY        Opcode = 0xBC
	ANEWARRAY       Opcode = 0xBD
	ARRAYLENGTH     Opcode = 0xBE
	ATHROW          Opcode = 0xBF
	CHECKCAST       Opcode = 0xC0
	INSTANCEOF      Opcode = 0xC1
	MONITORENTER    Opcode = 0xC2
	MONITOREXIT     Opcode = 0xC3

	// ========================================================================
	// Extended (0xC4-0xC9)
	// ========================================================================

	WIDE           Opcode = 0xC4
	MULTIANEWARRAY Opcode = 0xC5
	IFNULL         Opcode = 0xC6
	IFNONNULL      Opcode = 0xC7
	GOTO_W         Opcode = 0xC8
	JSR_W          Opcode = 0xC9

	// ========================================================================
	// Pseudo instructions
	// ========================================================================

	LABEL Opcode = 0x100 // Position marker: Instruction.Label
	LINE  Opcode = 0x101 // Source line: Instruction.Label starts line Instruction.Int
)

// OperandKind describes how an opcode's operand bytes are laid out.
type OperandKind uint8

const (
	OperandNone            OperandKind = iota
	OperandByte                        // s1 constant
	OperandShort                       // s2 constant
	OperandPoolByte                    // u1 constant pool index (ldc)
	OperandPool                        // u2 constant pool index
	OperandVar                         // u1 local slot (u2 after wide)
	OperandIinc                        // u1 slot, s1 delta (u2, s2 after wide)
	OperandBranch                      // s2 branch offset
	OperandBranchWide                  // s4 branch offset
	OperandTableSwitch                 // padded jump table
	OperandLookupSwitch                // padded match/offset pairs
	OperandInvokeInterface             // u2 index, u1 count, u1 zero
	OperandInvokeDynamic               // u2 index, u2 zero
	OperandNewArray                    // u1 array type
	OperandMultiANewArray              // u2 index, u1 dimensions
	OperandWide                        // prefix
	OperandImplicitVar                 // xload_n / xstore_n
	OperandPseudo                      // never encoded
)

// OpcodeInfo provides metadata about an opcode.
type OpcodeInfo struct {
	Name    string
	Operand OperandKind
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	NOP: {"nop", OperandNone}, ACONST_NULL: {"aconst_null", OperandNone},
	ICONST_M1: {"iconst_m1", OperandNone}, ICONST_0: {"iconst_0", OperandNone},
	ICONST_1: {"iconst_1", OperandNone}, ICONST_2: {"iconst_2", OperandNone},
	ICONST_3: {"iconst_3", OperandNone}, ICONST_4: {"iconst_4", OperandNone},
	ICONST_5: {"iconst_5", OperandNone}, LCONST_0: {"lconst_0", OperandNone},
	LCONST_1: {"lconst_1", OperandNone}, FCONST_0: {"fconst_0", OperandNone},
	FCONST_1: {"fconst_1", OperandNone}, FCONST_2: {"fconst_2", OperandNone},
	DCONST_0: {"dconst_0", OperandNone}, DCONST_1: {"dconst_1", OperandNone},
	BIPUSH: {"bipush", OperandByte}, SIPUSH: {"sipush", OperandShort},
	LDC: {"ldc", OperandPoolByte}, LDC_W: {"ldc_w", OperandPool}, LDC2_W: {"ldc2_w", OperandPool},

	ILOAD: {"iload", OperandVar}, LLOAD: {"lload", OperandVar}, FLOAD: {"fload", OperandVar},
	DLOAD: {"dload", OperandVar}, ALOAD: {"aload", OperandVar},
	IALOAD: {"iaload", OperandNone}, LALOAD: {"laload", OperandNone}, FALOAD: {"faload", OperandNone},
	DALOAD: {"daload", OperandNone}, AALOAD: {"aaload", OperandNone}, BALOAD: {"baload", OperandNone},
	CALOAD: {"caload", OperandNone}, SALOAD: {"saload", OperandNone},

	ISTORE: {"istore", OperandVar}, LSTORE: {"lstore", OperandVar}, FSTORE: {"fstore", OperandVar},
	DSTORE: {"dstore", OperandVar}, ASTORE: {"astore", OperandVar},
	IASTORE: {"iastore", OperandNone}, LASTORE: {"lastore", OperandNone}, FASTORE: {"fastore", OperandNone},
	DASTORE: {"dastore", OperandNone}, AASTORE: {"aastore", OperandNone}, BASTORE: {"bastore", OperandNone},
	CASTORE: {"castore", OperandNone}, SASTORE: {"sastore", OperandNone},

	POP: {"pop", OperandNone}, POP2: {"pop2", OperandNone}, DUP: {"dup", OperandNone},
	DUP_X1: {"dup_x1", OperandNone}, DUP_X2: {"dup_x2", OperandNone}, DUP2: {"dup2", OperandNone},
	DUP2_X1: {"dup2_x1", OperandNone}, DUP2_X2: {"dup2_x2", OperandNone}, SWAP: {"swap", OperandNone},

	IADD: {"iadd", OperandNone}, LADD: {"ladd", OperandNone}, FADD: {"fadd", OperandNone}, DADD: {"dadd", OperandNone},
	ISUB: {"isub", OperandNone}, LSUB: {"lsub", OperandNone}, FSUB: {"fsub", OperandNone}, DSUB: {"dsub", OperandNone},
	IMUL: {"imul", OperandNone}, LMUL: {"lmul", OperandNone}, FMUL: {"fmul", OperandNone}, DMUL: {"dmul", OperandNone},
	IDIV: {"idiv", OperandNone}, LDIV: {"ldiv", OperandNone}, FDIV: {"fdiv", OperandNone}, DDIV: {"ddiv", OperandNone},
	IREM: {"irem", OperandNone}, LREM: {"lrem", OperandNone}, FREM: {"frem", OperandNone}, DREM: {"drem", OperandNone},
	INEG: {"ineg", OperandNone}, LNEG: {"lneg", OperandNone}, FNEG: {"fneg", OperandNone}, DNEG: {"dneg", OperandNone},
	ISHL: {"ishl", OperandNone}, LSHL: {"lshl", OperandNone}, ISHR: {"ishr", OperandNone}, LSHR: {"lshr", OperandNone},
	IUSHR: {"iushr", OperandNone}, LUSHR: {"lushr", OperandNone}, IAND: {"iand", OperandNone}, LAND: {"land", OperandNone},
	IOR: {"ior", OperandNone}, LOR: {"lor", OperandNone}, IXOR: {"ixor", OperandNone}, LXOR: {"lxor", OperandNone},
	IINC: {"iinc", OperandIinc},

	I2L: {"i2l", OperandNone}, I2F: {"i2f", OperandNone}, I2D: {"i2d", OperandNone},
	L2I: {"l2i", OperandNone}, L2F: {"l2f", OperandNone}, L2D: {"l2d", OperandNone},
	F2I: {"f2i", OperandNone}, F2L: {"f2l", OperandNone}, F2D: {"f2d", OperandNone},
	D2I: {"d2i", OperandNone}, D2L: {"d2l", OperandNone}, D2F: {"d2f", OperandNone},
	I2B: {"i2b", OperandNone}, I2C: {"i2c", OperandNone}, I2S: {"i2s", OperandNone},
	LCMP: {"lcmp", OperandNone}, FCMPL: {"fcmpl", OperandNone}, FCMPG: {"fcmpg", OperandNone},
	DCMPL: {"dcmpl", OperandNone}, DCMPG: {"dcmpg", OperandNone},

	IFEQ: {"ifeq", OperandBranch}, IFNE: {"ifne", OperandBranch}, IFLT: {"iflt", OperandBranch},
	IFGE: {"ifge", OperandBranch}, IFGT: {"ifgt", OperandBranch}, IFLE: {"ifle", OperandBranch},
	IF_ICMPEQ: {"if_icmpeq", OperandBranch}, IF_ICMPNE: {"if_icmpne", OperandBranch},
	IF_ICMPLT: {"if_icmplt", OperandBranch}, IF_ICMPGE: {"if_icmpge", OperandBranch},
	IF_ICMPGT: {"if_icmpgt", OperandBranch}, IF_ICMPLE: {"if_icmple", OperandBranch},
	IF_ACMPEQ: {"if_acmpeq", OperandBranch}, IF_ACMPNE: {"if_acmpne", OperandBranch},
	GOTO: {"goto", OperandBranch}, JSR: {"jsr", OperandBranch}, RET: {"ret", OperandVar},
	TABLESWITCH: {"tableswitch", OperandTableSwitch}, LOOKUPSWITCH: {"lookupswitch", OperandLookupSwitch},
	IRETURN: {"ireturn", OperandNone}, LRETURN: {"lreturn", OperandNone}, FRETURN: {"freturn", OperandNone},
	DRETURN: {"dreturn", OperandNone}, ARETURN: {"areturn", OperandNone}, RETURN: {"return", OperandNone},

	GETSTATIC: {"getstatic", OperandPool}, PUTSTATIC: {"putstatic", OperandPool},
	GETFIELD: {"getfield", OperandPool}, PUTFIELD: {"putfield", OperandPool},
	INVOKEVIRTUAL: {"invokevirtual", OperandPool}, INVOKESPECIAL: {"invokespecial", OperandPool},
	INVOKESTATIC: {"invokestatic", OperandPool}, INVOKEINTERFACE: {"invokeinterface", OperandInvokeInterface},
	INVOKEDYNAMIC: {"invokedynamic", OperandInvokeDynamic},
	NEW: {"new", OperandPool}, NEWARRAY: {"newarray", OperandNewArray}, ANEWARRAY: {"anewarray", OperandPool},
	ARRAYLENGTH: {"arraylength", OperandNone}, ATHROW: {"athrow", OperandNone},
	CHECKCAST: {"checkcast", OperandPool}, INSTANCEOF: {"instanceof", OperandPool},
	MONITORENTER: {"monitorenter", OperandNone}, MONITOREXIT: {"monitorexit", OperandNone},

	WIDE: {"wide", OperandWide}, MULTIANEWARRAY: {"multianewarray", OperandMultiANewArray},
	IFNULL: {"ifnull", OperandBranch}, IFNONNULL: {"ifnonnull", OperandBranch},
	GOTO_W: {"goto_w", OperandBranchWide}, JSR_W: {"jsr_w", OperandBranchWide},

	LABEL: {"LABEL", OperandPseudo}, LINE: {"LINE", OperandPseudo},
}

func init() {
	// xload_n and xstore_n share one entry shape.
	prefixes := []string{"iload", "lload", "fload", "dload", "aload"}
	for i, p := range prefixes {
		for n := 0; n < 4; n++ {
			opcodeInfoTable[ILOAD_0+Opcode(i*4+n)] = OpcodeInfo{fmt.Sprintf("%s_%d", p, n), OperandImplicitVar}
		}
	}
	prefixes = []string{"istore", "lstore", "fstore", "dstore", "astore"}
	for i, p := range prefixes {
		for n := 0; n < 4; n++ {
			opcodeInfoTable[ISTORE_0+Opcode(i*4+n)] = OpcodeInfo{fmt.Sprintf("%s_%d", p, n), OperandImplicitVar}
		}
	}
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	if info, ok := opcodeInfoTable[op]; ok {
		return info, true
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", uint16(op))}, false
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	info, _ := GetOpcodeInfo(op)
	return info.Name
}

// IsPseudo reports whether op is a LABEL or LINE marker.
func (op Opcode) IsPseudo() bool {
	return op >= LABEL
}

// IsBranch reports whether op transfers control to a single label.
func (op Opcode) IsBranch() bool {
	return (op >= IFEQ && op <= JSR) || op == IFNULL || op == IFNONNULL || op == GOTO_W || op == JSR_W
}

// IsConditional reports whether op is a two-way branch.
func (op Opcode) IsConditional() bool {
	return (op >= IFEQ && op <= IF_ACMPNE) || op == IFNULL || op == IFNONNULL
}

// IsSwitch reports whether op is tableswitch or lookupswitch.
func (op Opcode) IsSwitch() bool {
	return op == TABLESWITCH || op == LOOKUPSWITCH
}

// IsReturn reports whether op returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= IRETURN && op <= RETURN
}

// EndsBlock reports whether control never falls through to the next instruction.
func (op Opcode) EndsBlock() bool {
	return op == GOTO || op == GOTO_W || op == ATHROW || op == RET || op.IsReturn() || op.IsSwitch()
}

// IsInvoke reports whether op is one of the invoke instructions.
func (op Opcode) IsInvoke() bool {
	return op >= INVOKEVIRTUAL && op <= INVOKEDYNAMIC
}

// IsLoad reports whether op loads a local variable (long form).
func (op Opcode) IsLoad() bool {
	return op >= ILOAD && op <= ALOAD
}

// IsStore reports whether op stores a local variable (long form).
func (op Opcode) IsStore() bool {
	return op >= ISTORE && op <= ASTORE
}

// VarWidth returns how many local slots a load/store of op touches.
func (op Opcode) VarWidth() int {
	switch op {
	case LLOAD, DLOAD, LSTORE, DSTORE:
		return 2
	}
	return 1
}
