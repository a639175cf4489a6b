package runtime

import (
	"context"
	"encoding/base64"
	"encoding/hex"

	"github.com/dop251/goja"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// dispatch implements the closed syscall table of spec §4.5.4. Every entry
// here is either synchronous (runs inline and returns its result directly)
// or async (spawned on the event loop and returned as a Promise); the split
// matches which Host methods are documented as build-blocking in spec §4.4.
func (iso *Isolate) dispatch(name string, rawArgs []goja.Value) goja.Value {
	ctx := context.Background()
	args := make([]value.Value, len(rawArgs))
	for i, a := range rawArgs {
		v, err := fromGoja(iso.vm, a)
		if err != nil {
			panic(iso.vm.ToValue(err.Error()))
		}
		args[i] = v
	}

	switch name {
	case "log":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 1 {
				return value.Value{}, terror.New(terror.Invalid, "log: missing argument")
			}
			return value.NewNull(), iso.host.Log(ctx, args[0].String())
		})

	case "encoding_utf8_encode":
		return iso.syncCall(func() (value.Value, error) {
			return value.NewBytes([]byte(arg0String(args))), nil
		})
	case "encoding_utf8_decode":
		return iso.syncCall(func() (value.Value, error) {
			return value.NewString(string(arg0Bytes(args))), nil
		})
	case "encoding_json_encode":
		return iso.syncCall(func() (value.Value, error) { return encodeJSON(firstArg(args)) })
	case "encoding_json_decode":
		return iso.syncCall(func() (value.Value, error) { return decodeJSON(arg0String(args)) })
	case "encoding_yaml_encode":
		return iso.syncCall(func() (value.Value, error) { return encodeYAML(firstArg(args)) })
	case "encoding_yaml_decode":
		return iso.syncCall(func() (value.Value, error) { return decodeYAML(arg0String(args)) })
	case "encoding_toml_encode":
		return iso.syncCall(func() (value.Value, error) { return encodeTOML(firstArg(args)) })
	case "encoding_toml_decode":
		return iso.syncCall(func() (value.Value, error) { return decodeTOML(arg0String(args)) })

	case "encoding_hex_encode":
		return iso.syncCall(func() (value.Value, error) {
			return value.NewString(hex.EncodeToString(arg0Bytes(args))), nil
		})
	case "encoding_hex_decode":
		return iso.syncCall(func() (value.Value, error) {
			b, err := hex.DecodeString(arg0String(args))
			if err != nil {
				return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_hex_decode")
			}
			return value.NewBytes(b), nil
		})
	case "encoding_base64_encode":
		return iso.syncCall(func() (value.Value, error) {
			return value.NewString(base64.StdEncoding.EncodeToString(arg0Bytes(args))), nil
		})
	case "encoding_base64_decode":
		return iso.syncCall(func() (value.Value, error) {
			b, err := base64.StdEncoding.DecodeString(arg0String(args))
			if err != nil {
				return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_base64_decode")
			}
			return value.NewBytes(b), nil
		})

	case "checksum":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 2 {
				return value.Value{}, terror.New(terror.Invalid, "checksum: want (algorithm, data)")
			}
			sum, err := iso.host.Checksum(ctx, checksum.Algorithm(args[0].String()), arg0BytesAt(args, 1))
			if err != nil {
				return value.Value{}, err
			}
			return value.NewString(sum.String()), nil
		})

	case "blob_new":
		return iso.asyncCall(func() (value.Value, error) {
			blobID, err := iso.host.BlobNew(ctx, arg0Bytes(args))
			if err != nil {
				return value.Value{}, err
			}
			return value.NewBlob(blobID), nil
		})
	case "blob_bytes":
		return iso.asyncCall(func() (value.Value, error) {
			data, err := iso.host.BlobBytes(ctx, arg0Ref(args))
			if err != nil {
				return value.Value{}, err
			}
			return value.NewBytes(data), nil
		})
	case "blob_text":
		return iso.asyncCall(func() (value.Value, error) {
			text, err := iso.host.BlobText(ctx, arg0Ref(args))
			if err != nil {
				return value.Value{}, err
			}
			return value.NewString(text), nil
		})

	case "artifact_bundle":
		return iso.asyncCall(func() (value.Value, error) {
			if len(args) < 2 {
				return value.Value{}, terror.New(terror.Invalid, "artifact_bundle: want (artifact, destDir)")
			}
			return value.NewNull(), iso.host.ArtifactBundle(ctx, args[0].Ref(), args[1].String())
		})
	case "artifact_get":
		return iso.asyncCall(func() (value.Value, error) {
			return iso.host.ArtifactGet(ctx, arg0Ref(args))
		})

	case "directory_new":
		return iso.syncCall(func() (value.Value, error) {
			entries := map[string]id.ID{}
			if len(args) > 0 {
				for k, v := range args[0].Map() {
					entries[k] = v.Ref()
				}
			}
			dirID, err := iso.host.DirectoryNew(ctx, entries)
			if err != nil {
				return value.Value{}, err
			}
			return value.NewArtifact(dirID), nil
		})
	case "file_new":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 2 {
				return value.Value{}, terror.New(terror.Invalid, "file_new: want (blob, executable, references?)")
			}
			var refs []id.ID
			if len(args) > 2 {
				for _, e := range args[2].Array() {
					refs = append(refs, e.Ref())
				}
			}
			fileID, err := iso.host.FileNew(ctx, args[0].Ref(), args[1].Bool(), refs)
			if err != nil {
				return value.Value{}, err
			}
			return value.NewArtifact(fileID), nil
		})
	case "symlink_new":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 1 {
				return value.Value{}, terror.New(terror.Invalid, "symlink_new: want (template)")
			}
			symID, err := iso.host.SymlinkNew(ctx, args[0])
			if err != nil {
				return value.Value{}, err
			}
			return value.NewArtifact(symID), nil
		})

	case "target_new":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 3 {
				return value.Value{}, terror.New(terror.Invalid, "target_new: want (module, name, argsArray, env?)")
			}
			var argv []value.Value
			if len(args) > 2 {
				argv = args[2].Array()
			}
			env := map[string]value.Value{}
			if len(args) > 3 {
				env = args[3].Map()
			}
			opID, err := iso.host.TargetNew(ctx, iso.pkg, args[0].String(), args[1].String(), env, argv)
			if err != nil {
				return value.Value{}, err
			}
			return value.NewOperation(opID), nil
		})
	case "task_new":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 1 {
				return value.Value{}, terror.New(terror.Invalid, "task_new: want (spec)")
			}
			opID, err := iso.host.TaskNew(ctx, args[0])
			if err != nil {
				return value.Value{}, err
			}
			return value.NewOperation(opID), nil
		})
	case "resource_new":
		return iso.syncCall(func() (value.Value, error) {
			if len(args) < 1 {
				return value.Value{}, terror.New(terror.Invalid, "resource_new: want (spec)")
			}
			spec := args[0].Map()
			url := spec["url"].String()
			unpack := ""
			if u, ok := spec["unpack"]; ok {
				unpack = u.String()
			}
			var sum *checksum.Checksum
			if c, ok := spec["checksum"]; ok && c.Kind() == value.String {
				parsed, err := checksum.Parse(c.String())
				if err != nil {
					return value.Value{}, terror.Wrap(terror.Invalid, err, "resource_new: checksum")
				}
				sum = &parsed
			}
			unsafe := false
			if u, ok := spec["unsafe"]; ok {
				unsafe = u.Bool()
			}
			opID, err := iso.host.ResourceNew(ctx, url, unpack, sum, unsafe)
			if err != nil {
				return value.Value{}, err
			}
			return value.NewOperation(opID), nil
		})

	case "operation_get":
		return iso.syncCall(func() (value.Value, error) {
			return iso.host.OperationGet(ctx, arg0Ref(args))
		})
	case "operation_evaluate":
		return iso.asyncCall(func() (value.Value, error) {
			return iso.host.OperationEvaluate(ctx, arg0Ref(args))
		})

	case "stack_frame":
		return iso.syncCall(func() (value.Value, error) {
			idx := 0
			if len(args) > 0 {
				idx = int(args[0].Number())
			}
			frame, err := iso.host.StackFrame(ctx, idx)
			if err != nil {
				return value.Value{}, err
			}
			return value.NewMap(map[string]value.Value{
				"module":      value.NewString(frame.Module),
				"line":        value.NewNumber(float64(frame.Line)),
				"column":      value.NewNumber(float64(frame.Column)),
				"source_line": value.NewString(frame.SourceLine),
			}), nil
		})

	default:
		panic(iso.vm.ToValue("syscall: unknown name " + name))
	}
}

// syncCall runs work immediately and converts its result, for syscalls spec
// §4.5.4 documents as not build-blocking (cheap, in-memory operations).
func (iso *Isolate) syncCall(work func() (value.Value, error)) goja.Value {
	v, err := work()
	if err != nil {
		panic(iso.vm.ToValue(err.Error()))
	}
	return toGoja(iso.vm, v)
}

// asyncCall spawns work on the event loop and returns a Promise, for
// syscalls that may block on store or filesystem I/O.
func (iso *Isolate) asyncCall(work func() (value.Value, error)) goja.Value {
	promise := iso.loop.spawnAsync(work)
	return iso.vm.ToValue(promise)
}

func arg0String(args []value.Value) string {
	if len(args) == 0 {
		return ""
	}
	return args[0].String()
}

func arg0Bytes(args []value.Value) []byte {
	if len(args) == 0 {
		return nil
	}
	if args[0].Kind() == value.String {
		return []byte(args[0].String())
	}
	return args[0].BytesValue()
}

func arg0BytesAt(args []value.Value, i int) []byte {
	if len(args) <= i {
		return nil
	}
	if args[i].Kind() == value.String {
		return []byte(args[i].String())
	}
	return args[i].BytesValue()
}

func arg0Ref(args []value.Value) id.ID {
	if len(args) == 0 {
		return id.ID{}
	}
	return args[0].Ref()
}

func firstArg(args []value.Value) value.Value {
	if len(args) == 0 {
		return value.NewNull()
	}
	return args[0]
}
