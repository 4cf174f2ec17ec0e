package network

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
)

// Register 将路网注册到sidecar
// 功能：注册信号灯服务处理器，信号灯以节点ID作为路口ID
func (n *Network) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		mapv2connect.TrafficLightServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return mapv2connect.NewTrafficLightServiceHandler(n, opts...)
		},
	)
}

// 查找带信号灯的节点
func (n *Network) lightOf(nodeID int32) (*node.LightControl, error) {
	nd, ok := n.nodeMap[nodeID]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("junction id does not exist"))
	}
	if nd.Light() == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("junction has no traffic light"))
	}
	return nd.Light(), nil
}

// GetTrafficLight RPC接口：获取节点的信号灯状态
// 返回：信号灯程序、相位索引和剩余时间；无信号灯的节点返回空响应
func (n *Network) GetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.GetTrafficLightRequest],
) (*connect.Response[mapv2.GetTrafficLightResponse], error) {
	req := in.Msg
	nd, ok := n.nodeMap[req.JunctionId]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("junction id does not exist"))
	}
	l := nd.Light()
	if l == nil || l.Get() == nil {
		return connect.NewResponse(&mapv2.GetTrafficLightResponse{}), nil
	}
	return connect.NewResponse(&mapv2.GetTrafficLightResponse{
		TrafficLight:  l.Get(),
		PhaseIndex:    l.Step(),
		TimeRemaining: l.RemainingTime(),
	}), nil
}

// SetTrafficLightPhase RPC接口：设置节点信号灯的相位与剩余时间
func (n *Network) SetTrafficLightPhase(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightPhaseRequest],
) (*connect.Response[mapv2.SetTrafficLightPhaseResponse], error) {
	req := in.Msg
	l, err := n.lightOf(req.JunctionId)
	if err != nil {
		return nil, err
	}
	if req.TimeRemaining < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid remaining time"))
	}
	if err := l.SetPhase(req.PhaseIndex, req.TimeRemaining); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightPhaseResponse{}), nil
}

// SetTrafficLightStatus RPC接口：设置节点信号灯开关
// 说明：true表示正常工作，false表示失效（常绿）
func (n *Network) SetTrafficLightStatus(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightStatusRequest],
) (*connect.Response[mapv2.SetTrafficLightStatusResponse], error) {
	req := in.Msg
	l, err := n.lightOf(req.JunctionId)
	if err != nil {
		return nil, err
	}
	l.SetOk(req.Ok)
	return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
}
