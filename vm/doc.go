// Package vm is the JVM backend for dice programs.
//
// It has four parts:
//
//   - Generator lowers a dice program to bytecode for a class with a static
//     main and a private static rollDice(II)V, interning every constant it
//     references into a ConstantPool.
//   - BuildClass and ClassFile.WriteTo produce a Java 8 (52.0) class file
//     that a stock JVM will load and run.
//   - ParseClass reads class files back, validating the constant pool,
//     every cross-reference and every method body before anything runs.
//   - Interpreter executes a supported subset of JVM instructions, with
//     java.lang.Math.random and java.io.PrintStream provided natively.
//
// # Output
//
// A generated class prints each roll on its own line and then
// "Total: <sum>", the same text the native stack machine prints.
//
// # Errors
//
// Failures fall into three families, tested with IsGenerationError,
// IsFormatError and IsRuntimeFault. Runtime faults are wrapped in a *Fault
// naming the method and pc that raised them.
package vm
