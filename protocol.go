package pyro

import "fmt"

// getField implements GET_FIELD/GET_MEMBER: instance fields and
// methods, module members, class static members, and enum-type
// members.
func (vm *VM) getField(recv Value, name string) (Value, error) {
	if recv.kind != KindObj {
		return Value{}, vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' has no field '"+name+"'")
	}
	switch o := recv.obj.(type) {
	case *ObjInstance:
		if idx, ok := o.class.allFieldIndexes[name]; ok {
			return o.fields[idx], nil
		}
		if method, ok := o.class.allInstanceMethods[name]; ok {
			return ObjVal(vm.heap.NewBoundMethod(recv, method)), nil
		}
		return Value{}, vm.runtimeError(PanicNameError, "'"+o.class.name+"' has no field or method '"+name+"'")
	case *ObjClass:
		if method, ok := o.staticMethods[name]; ok {
			return method, nil
		}
		if field, ok := o.staticFields[name]; ok {
			return field, nil
		}
		return Value{}, vm.runtimeError(PanicNameError, "class '"+o.name+"' has no static member '"+name+"'")
	case *ObjModule:
		if idx, ok := o.allMemberIndexes[name]; ok {
			return o.members[idx], nil
		}
		return Value{}, vm.runtimeError(PanicNameError, "module '"+o.name+"' has no member '"+name+"'")
	case *ObjEnumType:
		if member, ok := o.members[name]; ok {
			return ObjVal(member), nil
		}
		return Value{}, vm.runtimeError(PanicNameError, "enum '"+o.name+"' has no member '"+name+"'")
	case *ObjErr:
		switch name {
		case "message":
			return ObjVal(o.message), nil
		case "details":
			return ObjVal(o.details), nil
		}
		return Value{}, vm.runtimeError(PanicNameError, "err has no field '"+name+"'")
	default:
		return Value{}, vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' has no field '"+name+"'")
	}
}

// getPubField implements GET_PUB_FIELD/GET_PUB_METHOD: the
// public-only counterpart of getField, used whenever the receiver of
// a `.`/`:` access isn't a bare, unchained `self`. Receiver kinds with
// no pub/pri distinction (modules, enums, classes, errs) fall through
// to getField unchanged.
func (vm *VM) getPubField(recv Value, name string) (Value, error) {
	if recv.kind != KindObj {
		return Value{}, vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' has no field '"+name+"'")
	}
	o, ok := recv.obj.(*ObjInstance)
	if !ok {
		return vm.getField(recv, name)
	}
	if idx, ok := o.class.pubFieldIndexes[name]; ok {
		return o.fields[idx], nil
	}
	if method, ok := o.class.pubInstanceMethods[name]; ok {
		return ObjVal(vm.heap.NewBoundMethod(recv, method)), nil
	}
	return Value{}, vm.runtimeError(PanicNameError, "'"+o.class.name+"' has no public field or method '"+name+"'")
}

func (vm *VM) setPubField(recv Value, name string, val Value) error {
	if recv.kind != KindObj {
		return vm.runtimeError(PanicTypeError, "cannot set field on '"+recv.TypeName()+"'")
	}
	o, ok := recv.obj.(*ObjInstance)
	if !ok {
		return vm.setField(recv, name, val)
	}
	idx, ok := o.class.pubFieldIndexes[name]
	if !ok {
		return vm.runtimeError(PanicNameError, "'"+o.class.name+"' has no public field '"+name+"'")
	}
	o.fields[idx] = val
	return nil
}

func (vm *VM) setField(recv Value, name string, val Value) error {
	if recv.kind != KindObj {
		return vm.runtimeError(PanicTypeError, "cannot set field on '"+recv.TypeName()+"'")
	}
	switch o := recv.obj.(type) {
	case *ObjInstance:
		idx, ok := o.class.allFieldIndexes[name]
		if !ok {
			return vm.runtimeError(PanicNameError, "'"+o.class.name+"' has no field '"+name+"'")
		}
		o.fields[idx] = val
		return nil
	case *ObjClass:
		o.staticFields[name] = val
		return nil
	default:
		return vm.runtimeError(PanicTypeError, "cannot set field on '"+recv.TypeName()+"'")
	}
}

// getIndex implements GET_INDEX for vectors, tuples, maps, strings
// and buffers.
func (vm *VM) getIndex(recv, idx Value) (Value, error) {
	if recv.kind != KindObj {
		return Value{}, vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' is not indexable")
	}
	switch o := recv.obj.(type) {
	case *ObjVec:
		i, err := vm.indexToInt(idx, len(o.items))
		if err != nil {
			return Value{}, err
		}
		return o.items[i], nil
	case *ObjTuple:
		i, err := vm.indexToInt(idx, len(o.items))
		if err != nil {
			return Value{}, err
		}
		return o.items[i], nil
	case *ObjMap:
		v, ok := o.Get(idx)
		if !ok {
			return Value{}, vm.runtimeError(PanicValueError, "key not found in map")
		}
		return v, nil
	case *ObjString:
		runes := []rune(string(o.bytes))
		i, err := vm.indexToInt(idx, len(runes))
		if err != nil {
			return Value{}, err
		}
		return RuneVal(runes[i]), nil
	case *ObjBuffer:
		i, err := vm.indexToInt(idx, len(o.bytes))
		if err != nil {
			return Value{}, err
		}
		return I64(int64(o.bytes[i])), nil
	default:
		return Value{}, vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' is not indexable")
	}
}

func (vm *VM) setIndex(recv, idx, val Value) error {
	if recv.kind != KindObj {
		return vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' does not support item assignment")
	}
	switch o := recv.obj.(type) {
	case *ObjVec:
		i, err := vm.indexToInt(idx, len(o.items))
		if err != nil {
			return err
		}
		o.items[i] = val
		o.version++
		return nil
	case *ObjMap:
		o.Set(idx, val)
		return nil
	case *ObjBuffer:
		i, err := vm.indexToInt(idx, len(o.bytes))
		if err != nil {
			return err
		}
		if val.Kind() != KindI64 {
			return vm.runtimeError(PanicTypeError, "buffer elements must be i64 byte values")
		}
		o.bytes[i] = byte(val.AsI64())
		return nil
	default:
		return vm.runtimeError(PanicTypeError, "'"+recv.TypeName()+"' does not support item assignment")
	}
}

func (vm *VM) indexToInt(idx Value, length int) (int, error) {
	if idx.Kind() != KindI64 {
		return 0, vm.runtimeError(PanicTypeError, "index must be an i64")
	}
	i := idx.AsI64()
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return 0, vm.runtimeError(PanicOutOfRange, fmt.Sprintf("index %d out of range for length %d", idx.AsI64(), length))
	}
	return int(i), nil
}

// spreadItems returns the element values of a splat-call's trailing
// `...expr` argument: a vector or tuple's items, in order.
func (vm *VM) spreadItems(v Value) ([]Value, error) {
	if v.kind != KindObj {
		return nil, vm.runtimeError(PanicTypeError, "'"+v.TypeName()+"' cannot be unpacked into arguments")
	}
	switch o := v.obj.(type) {
	case *ObjVec:
		return append([]Value(nil), o.items...), nil
	case *ObjTuple:
		return append([]Value(nil), o.items...), nil
	default:
		return nil, vm.runtimeError(PanicTypeError, "'"+v.TypeName()+"' cannot be unpacked into arguments")
	}
}

// makeIterator implements GET_ITERATOR: every built-in collection has
// a native iteration order; a vector iterator panics if its source is
// mutated mid-iteration.
func (vm *VM) makeIterator(v Value) (*ObjIterator, error) {
	if v.kind != KindObj {
		return nil, vm.runtimeError(PanicTypeError, "'"+v.TypeName()+"' is not iterable")
	}
	switch v.obj.(type) {
	case *ObjVec:
		return vm.heap.NewIterator(IterVec, v), nil
	case *ObjTuple:
		return vm.heap.NewIterator(IterTuple, v), nil
	case *ObjMap:
		return vm.heap.NewIterator(IterMapEntries, v), nil
	case *ObjString:
		return vm.heap.NewIterator(IterStringRunes, v), nil
	case *ObjQueue:
		return vm.heap.NewIterator(IterQueue, v), nil
	case *ObjIterator:
		return v.obj.(*ObjIterator), nil
	default:
		return nil, vm.runtimeError(PanicTypeError, "'"+v.TypeName()+"' is not iterable")
	}
}

// iteratorNext advances it, returning (value, true, nil) on success
// and (_, false, nil) at exhaustion.
func (vm *VM) iteratorNext(it *ObjIterator) (Value, bool, error) {
	if it.done {
		return Value{}, false, nil
	}
	switch it.kind {
	case IterVec:
		vec := it.source.obj.(*ObjVec)
		if vec.version != it.vecVers {
			return Value{}, false, vm.runtimeError(PanicValueError, "vector modified during iteration")
		}
		if it.pos >= len(vec.items) {
			it.done = true
			return Value{}, false, nil
		}
		v := vec.items[it.pos]
		it.pos++
		return v, true, nil
	case IterTuple:
		tup := it.source.obj.(*ObjTuple)
		if it.pos >= len(tup.items) {
			it.done = true
			return Value{}, false, nil
		}
		v := tup.items[it.pos]
		it.pos++
		return v, true, nil
	case IterStringRunes:
		s := it.source.obj.(*ObjString)
		runes := []rune(string(s.bytes))
		if it.pos >= len(runes) {
			it.done = true
			return Value{}, false, nil
		}
		v := RuneVal(runes[it.pos])
		it.pos++
		return v, true, nil
	case IterQueue:
		q := it.source.obj.(*ObjQueue)
		v, ok := q.Dequeue()
		if !ok {
			it.done = true
			return Value{}, false, nil
		}
		return v, true, nil
	case IterMapEntries, IterMapKeys, IterMapValues:
		m := it.source.obj.(*ObjMap)
		for it.pos < len(m.entries) {
			e := m.entries[it.pos]
			it.pos++
			if !e.occupied || e.deleted {
				continue
			}
			switch it.kind {
			case IterMapKeys:
				return e.key, true, nil
			case IterMapValues:
				return e.val, true, nil
			default:
				return ObjVal(vm.heap.NewTuple([]Value{e.key, e.val})), true, nil
			}
		}
		it.done = true
		return Value{}, false, nil
	default:
		it.done = true
		return Value{}, false, nil
	}
}
